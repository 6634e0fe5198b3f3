package swap

import "testing"

func TestStageFromRemote(t *testing.T) {
	tests := []struct {
		name   string
		remote RemoteStatus
		want   Stage
	}{
		{"pending", RemoteStatus{Status: RemotePending}, StageInitiated},
		{"active no escrows", RemoteStatus{Status: RemoteActive}, StageInitiated},
		{"one escrow", RemoteStatus{Status: RemoteActive, SrcEscrowAddress: "0xa"}, StageInitiated},
		{"both escrows", RemoteStatus{Status: RemoteActive, SrcEscrowAddress: "0xa", DstEscrowAddress: "rB"}, StageEscrowDeployed},
		{"finality", RemoteStatus{Status: RemoteActive, ChainFinality: true}, StageFinalityConfirmed},
		{"secret beats finality", RemoteStatus{Status: RemoteActive, ChainFinality: true, SecretSubmitted: true}, StageSecretSubmitted},
		{"filled beats everything", RemoteStatus{Status: RemoteFilled, SecretSubmitted: true}, StageCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StageFromRemote(tt.remote); got != tt.want {
				t.Errorf("StageFromRemote() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProgressFor(t *testing.T) {
	tests := []struct {
		stage  Stage
		status string
		want   int
	}{
		{StageCompleted, RemoteFilled, 100},
		{StageSecretSubmitted, RemoteActive, 80},
		{StageFinalityConfirmed, RemoteActive, 60},
		{StageEscrowDeployed, RemoteActive, 40},
		{StageInitiated, RemoteActive, 20},
		{StageInitiated, RemotePending, 0},
	}
	for _, tt := range tests {
		if got := ProgressFor(tt.stage, tt.status); got != tt.want {
			t.Errorf("ProgressFor(%s, %s) = %d, want %d", tt.stage, tt.status, got, tt.want)
		}
	}
}

func TestAdvanceIsMonotonic(t *testing.T) {
	seq := []Stage{
		StageEscrowDeployed,
		StageInitiated,
		StageFinalityConfirmed,
		StageEscrowDeployed,
		StageCompleted,
		StageInitiated,
		StageFailed,
	}

	current := StageInitiated
	for _, next := range seq {
		prev := current
		current = Advance(current, next)
		if current.Ordinal() < prev.Ordinal() && current != StageFailed {
			t.Fatalf("stage regressed from %s to %s", prev, current)
		}
	}
	if current != StageCompleted {
		t.Errorf("final stage = %s, want completed", current)
	}

	if got := Advance(StageEscrowDeployed, StageFailed); got != StageFailed {
		t.Errorf("Advance to failed = %s", got)
	}
	if got := Advance(StageFailed, StageCompleted); got != StageFailed {
		t.Errorf("failed must stick, got %s", got)
	}
}

func TestStageMappings(t *testing.T) {
	statuses := map[Status]Stage{
		StatusPending:   StageInitiated,
		StatusLocked:    StageEscrowDeployed,
		StatusCompleted: StageCompleted,
		StatusCancelled: StageFailed,
		StatusExpired:   StageFailed,
		StatusRefunding: StageFailed,
	}
	for in, want := range statuses {
		if got := StageFromStatus(in); got != want {
			t.Errorf("StageFromStatus(%s) = %s, want %s", in, got, want)
		}
	}

	orders := map[string]Stage{
		"created":   StageInitiated,
		"locked":    StageEscrowDeployed,
		"executing": StageSecretSubmitted,
		"completed": StageCompleted,
		"failed":    StageFailed,
	}
	for in, want := range orders {
		if got := StageFromOrderStage(in); got != want {
			t.Errorf("StageFromOrderStage(%s) = %s, want %s", in, got, want)
		}
	}
}
