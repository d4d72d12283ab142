// Package builder implements the one-at-a-time worker that actually runs a
// package build: it receives BuildPackage calls over the bus RPC
// substrate, runs the container, uploads artifacts, and asks the database
// component to index them.
package builder

import "github.com/chaotic-cx/chaotic-manager-sub000/internal/buildproto"

type BuildParams = buildproto.BuildParams
type BuildStatus = buildproto.BuildStatus
type BuildStatusReturn = buildproto.BuildStatusReturn
type AddToDbParams = buildproto.AddToDbParams

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
