// Package buildproto holds the wire types shared by the coordinator and
// the builder agent across the bus RPC boundary (spec.md §6), so neither
// package needs to import the other just to agree on a shape.
package buildproto

// BuildStatus is the status a builder reports back for a BuildPackage call.
type BuildStatus int

const (
	StatusSuccess BuildStatus = iota
	StatusAlreadyBuilt
	StatusSkipped
	StatusFailed
	StatusTimedOut
	StatusCanceled
	StatusCanceledRequeue
	StatusSoftwareFailure
)

func (s BuildStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusAlreadyBuilt:
		return "ALREADY_BUILT"
	case StatusSkipped:
		return "SKIPPED"
	case StatusFailed:
		return "FAILED"
	case StatusTimedOut:
		return "TIMED_OUT"
	case StatusCanceled:
		return "CANCELED"
	case StatusCanceledRequeue:
		return "CANCELED_REQUEUE"
	case StatusSoftwareFailure:
		return "SOFTWARE_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// BuildStatusReturn is the result of a builder.BuildPackage call. Duration
// is populated from the builder's own stopwatch when available — the
// coordinator does not depend on it being set.
type BuildStatusReturn struct {
	Status   BuildStatus `json:"status"`
	Packages []string    `json:"packages,omitempty"`
	Duration *float64    `json:"duration,omitempty"`
}

// SSHTarget describes where the builder uploads artifacts.
type SSHTarget struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
}

// UploadInfo is the database component's FetchUploadInfo result.
type UploadInfo struct {
	Database struct {
		SSH         SSHTarget `json:"ssh"`
		LandingZone string    `json:"landing_zone"`
	} `json:"database"`
}

// BuildParams is what the coordinator sends to builder.BuildPackage.
type BuildParams struct {
	Pkgbase    string `json:"pkgbase"`
	TargetRepo string `json:"target_repo"`
	SourceRepo string `json:"source_repo"`
	Arch       string `json:"arch"`
	Timestamp  int64  `json:"timestamp"`
	Commit     string `json:"commit,omitempty"`

	BuilderImage string `json:"builder_image"`
	CiCodeSkip   int    `json:"ci_code_skip"`
	TimeoutSecs  int    `json:"timeout_secs"`

	ExtraPacmanRepos    string `json:"extra_pacman_repos"`
	ExtraPacmanKeyrings string `json:"extra_pacman_keyrings"`

	Upload UploadInfo `json:"upload"`
}

// AddToDbParams is what the builder sends to database.AddToDb on success.
type AddToDbParams struct {
	Pkgbase      string   `json:"pkgbase"`
	TargetRepo   string   `json:"target_repo"`
	SourceRepo   string   `json:"source_repo"`
	Arch         string   `json:"arch"`
	Pkgfiles     []string `json:"pkgfiles"`
	BuilderImage string   `json:"builder_image"`
	Timestamp    int64    `json:"timestamp"`
}

type AddToDbResult struct {
	Success bool `json:"success"`
}

// AutoRepoRemoveParams is what the coordinator sends to
// database.AutoRepoRemove.
type AutoRepoRemoveParams struct {
	Pkgbases     []string `json:"pkgbases"`
	Arch         string   `json:"arch"`
	Repo         string   `json:"repo"`
	BuilderImage string   `json:"builder_image"`
}

type AutoRepoRemoveResult struct {
	Success bool `json:"success"`
}

// GenerateDestFillerFilesParams is what the builder sends to
// database.GenerateDestFillerFiles before starting a build.
type GenerateDestFillerFilesParams struct {
	TargetRepo string `json:"target_repo"`
	Arch       string `json:"arch"`
}
