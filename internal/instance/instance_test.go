package instance

import (
	"testing"

	"github.com/Sakura4036/vllm-server/pkg/types"
)

func TestDeriveID(t *testing.T) {
	cases := []struct {
		model string
		port  int
		want  string
	}{
		{"facebook/opt-125m", 9000, "facebook_opt-125m_9000"},
		{"plain-model", 9003, "plain-model_9003"},
		{"a/b/c", 9010, "a_b_c_9010"},
	}
	for _, c := range cases {
		if got := deriveID(c.model, c.port); got != c.want {
			t.Errorf("deriveID(%q, %d) = %q, want %q", c.model, c.port, got, c.want)
		}
	}
}

func TestStatusRankOrdering(t *testing.T) {
	order := []types.InstanceStatus{
		types.StatusStarting,
		types.StatusHealthChecking,
		types.StatusRunning,
		types.StatusStopped,
	}
	for i := 1; i < len(order); i++ {
		if statusRank(order[i-1]) >= statusRank(order[i]) {
			t.Fatalf("rank(%s) >= rank(%s)", order[i-1], order[i])
		}
	}
	if statusRank("bogus") != -1 {
		t.Fatalf("unknown status must rank -1")
	}
}
