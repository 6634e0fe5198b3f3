package swap

// Stage is the canonical progress vocabulary shared by the coordinator, the
// order manager and the poller.
type Stage string

const (
	StageInitiated         Stage = "initiated"
	StageEscrowDeployed    Stage = "escrow_deployed"
	StageFinalityConfirmed Stage = "finality_confirmed"
	StageSecretSubmitted   Stage = "secret_submitted"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageInitiated:         0,
	StageEscrowDeployed:    1,
	StageFinalityConfirmed: 2,
	StageSecretSubmitted:   3,
	StageCompleted:         4,
}

// Ordinal returns the position of s in the forward order, or -1 for failed
// and unknown stages.
func (s Stage) Ordinal() int {
	if n, ok := stageOrder[s]; ok {
		return n
	}
	return -1
}

// IsTerminal returns true for completed and failed.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Advance returns the stage to record when next is observed after current.
// Terminal stages stick and earlier stages never replace later ones.
func Advance(current, next Stage) Stage {
	if current.IsTerminal() {
		return current
	}
	if next == StageFailed {
		return next
	}
	if next.Ordinal() > current.Ordinal() {
		return next
	}
	return current
}

// Remote order statuses reported by the relayer.
const (
	RemotePending   = "pending"
	RemoteActive    = "active"
	RemoteFilled    = "filled"
	RemoteCancelled = "cancelled"
)

// RemoteStatus is the subset of a relayer order that drives stage mapping.
type RemoteStatus struct {
	Status           string
	SrcEscrowAddress string
	DstEscrowAddress string
	ChainFinality    bool
	SecretSubmitted  bool
}

// StageFromRemote maps a relayer order onto the canonical stage.
func StageFromRemote(r RemoteStatus) Stage {
	switch {
	case r.Status == RemoteFilled:
		return StageCompleted
	case r.SecretSubmitted:
		return StageSecretSubmitted
	case r.ChainFinality:
		return StageFinalityConfirmed
	case r.SrcEscrowAddress != "" && r.DstEscrowAddress != "":
		return StageEscrowDeployed
	default:
		return StageInitiated
	}
}

// ProgressFor returns the percentage shown for a stage. remoteStatus only
// matters before escrows exist.
func ProgressFor(stage Stage, remoteStatus string) int {
	switch stage {
	case StageCompleted:
		return 100
	case StageSecretSubmitted:
		return 80
	case StageFinalityConfirmed:
		return 60
	case StageEscrowDeployed:
		return 40
	}
	if remoteStatus == RemoteActive {
		return 20
	}
	return 0
}

// StageFromStatus maps a swap record status onto the canonical stage.
func StageFromStatus(s Status) Stage {
	switch s {
	case StatusLocked:
		return StageEscrowDeployed
	case StatusCompleted:
		return StageCompleted
	case StatusCancelled, StatusExpired, StatusRefunding:
		return StageFailed
	default:
		return StageInitiated
	}
}

// StageFromOrderStage maps an order lifecycle stage name onto the canonical
// stage.
func StageFromOrderStage(s string) Stage {
	switch s {
	case "locked":
		return StageEscrowDeployed
	case "executing":
		return StageSecretSubmitted
	case "completed":
		return StageCompleted
	case "failed":
		return StageFailed
	default:
		return StageInitiated
	}
}
