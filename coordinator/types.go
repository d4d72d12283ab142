package coordinator

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
)

// BuildStatus and BuildStatusReturn are the coordinator-side names for the
// shared wire types in internal/buildproto, kept as aliases so existing
// coordinator code can refer to them without an import qualifier.
type BuildStatus = buildproto.BuildStatus
type BuildStatusReturn = buildproto.BuildStatusReturn

const (
	StatusSuccess         = buildproto.StatusSuccess
	StatusAlreadyBuilt    = buildproto.StatusAlreadyBuilt
	StatusSkipped         = buildproto.StatusSkipped
	StatusFailed          = buildproto.StatusFailed
	StatusTimedOut        = buildproto.StatusTimedOut
	StatusCanceled        = buildproto.StatusCanceled
	StatusCanceledRequeue = buildproto.StatusCanceledRequeue
	StatusSoftwareFailure = buildproto.StatusSoftwareFailure
)

// BuildClass is a tagged sum type: either a numeric capability tier or a
// sticky builder name. Exactly one of the two fields is meaningful,
// selected by Numeric.
type BuildClass struct {
	Numeric bool
	Tier    int    // valid when Numeric
	Name    string // valid when !Numeric: a builder's pure name
}

const (
	ClassSmall  = 0
	ClassMedium = 1
	ClassHeavy  = 2
)

// MarshalJSON encodes a numeric class as a number and a sticky class as a
// string, matching the wire shape in spec.md §6.
func (c BuildClass) MarshalJSON() ([]byte, error) {
	if c.Numeric {
		return json.Marshal(c.Tier)
	}
	return json.Marshal(c.Name)
}

func (c *BuildClass) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*c = BuildClass{Numeric: true, Tier: n}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("build_class: not a number or string: %w", err)
	}
	*c = BuildClass{Numeric: false, Name: s}
	return nil
}

// CanRun reports whether a builder with the given numeric tier and pure
// name is eligible to run a job tagged with this class (spec.md §6: numeric
// classes gate by "≥"; string classes require an exact pure-name match).
func (c BuildClass) CanRun(nodeTier int, nodePureName string) bool {
	if c.Numeric {
		return nodeTier >= c.Tier
	}
	return c.Name == nodePureName
}

var pkgbaseRe = regexp.MustCompile(`^[A-Za-z0-9_\-+.]+$`)

// ValidPkgbase reports whether s is an acceptable pkgbase (spec.md §4.1.1).
func ValidPkgbase(s string) bool {
	return s != "" && pkgbaseRe.MatchString(s)
}

// SavableJob is the persistence/wire projection of a job: everything needed
// to recreate a TrackedJob after a restart, minus the per-process fields
// (timestamp, logger, assigned_node) that get reattached on rehydration.
type SavableJob struct {
	Pkgbase      string     `json:"pkgbase"`
	TargetRepo   string     `json:"target_repo"`
	SourceRepo   string     `json:"source_repo"`
	Arch         string     `json:"arch"`
	BuildClass   BuildClass `json:"build_class"`
	Pkgnames     []string   `json:"pkgnames,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Commit       string     `json:"commit,omitempty"`
}

// Key is the primary key for a job: target_repo/arch/pkgbase.
func (j SavableJob) Key() string {
	return fmt.Sprintf("%s/%s/%s", j.TargetRepo, j.Arch, j.Pkgbase)
}

// TrackedJob is a SavableJob plus the live-process bookkeeping the
// coordinator attaches once a job is admitted.
type TrackedJob struct {
	SavableJob

	Timestamp    int64
	Logger       logger.Logger
	AssignedNode string // empty when not dispatched
	Replacement  *TrackedJob
}

func (j *TrackedJob) Savable() SavableJob {
	if j.Replacement != nil {
		return j.Replacement.SavableJob
	}
	return j.SavableJob
}

// QueueStatus is the per-job projection returned by GetQueue.
type QueueStatus struct {
	Status     string     `json:"status"` // "active" | "queued"
	Node       string     `json:"node,omitempty"`
	BuildClass BuildClass `json:"build_class"`
	Job        SavableJob `json:"job"`
	LiveLogURL string     `json:"live_log_url,omitempty"`
}

// BrokerNode is the view of a builder node exposed by GetAvailableNodes.
type BrokerNode struct {
	ID       string            `json:"id"`
	PureName string            `json:"pure_name"`
	Tier     int               `json:"tier"`
	Metadata map[string]string `json:"metadata"`
}

// buildQueueEnvelope is the JSON shape persisted under the "build-queue"
// bus key (spec.md §6).
type buildQueueEnvelope struct {
	SaveQueue []SavableJob `json:"save_queue"`
	Version   int          `json:"version"`
}
