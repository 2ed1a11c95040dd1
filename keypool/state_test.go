package keypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/OnlyCanLightRGB/azure-speech-keymanager-sub002/storage"
)

func testTriggers() Triggers {
	return NewTriggers(5*time.Minute, 3, []int{429}, []int{401, 403})
}

func TestEvaluate(t *testing.T) {
	triggers := testTriggers()

	tests := []struct {
		name       string
		current    Status
		errorCount int
		code       int
		want       Decision
	}{
		{
			name: "冷却触发码使 enabled 进入 cooldown",
			current: StatusEnabled, errorCount: 1, code: 429,
			want: Decision{Transition: true, Next: StatusCooldown, Action: storage.ActionCooldownStart},
		},
		{
			name: "冷却触发码对 cooldown 状态不再转换",
			current: StatusCooldown, errorCount: 2, code: 429,
			want: Decision{},
		},
		{
			name: "禁用触发码未达阈值时只计数",
			current: StatusEnabled, errorCount: 2, code: 401,
			want: Decision{},
		},
		{
			name: "禁用触发码达到阈值时禁用",
			current: StatusEnabled, errorCount: 3, code: 401,
			want: Decision{Transition: true, Next: StatusDisabled, Action: storage.ActionDisableKey},
		},
		{
			name: "禁用判定可抢占冷却中的密钥",
			current: StatusCooldown, errorCount: 3, code: 403,
			want: Decision{Transition: true, Next: StatusDisabled, Action: storage.ActionDisableKey},
		},
		{
			name: "disabled 是终态",
			current: StatusDisabled, errorCount: 10, code: 401,
			want: Decision{},
		},
		{
			name: "集合外的失败码不转换",
			current: StatusEnabled, errorCount: 5, code: 500,
			want: Decision{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.current, tt.errorCount, tt.code, triggers)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateZeroThresholdNeverDisables(t *testing.T) {
	triggers := NewTriggers(time.Minute, 0, []int{429}, []int{401})
	got := Evaluate(StatusEnabled, 100, 401, triggers)
	assert.False(t, got.Transition)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusEnabled, StatusDisabled))
	assert.True(t, CanTransition(StatusDisabled, StatusEnabled))
	assert.True(t, CanTransition(StatusCooldown, StatusEnabled))
	assert.False(t, CanTransition(StatusEnabled, StatusEnabled), "原地转换无效")
	assert.False(t, CanTransition(StatusEnabled, Status("bogus")))
	assert.False(t, CanTransition(Status(""), StatusEnabled))
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusEnabled.Valid())
	assert.True(t, StatusCooldown.Valid())
	assert.True(t, StatusDisabled.Valid())
	assert.False(t, Status("paused").Valid())
}

func TestValidRegion(t *testing.T) {
	assert.True(t, ValidRegion(""), "空串是合法的通配区域")
	assert.True(t, ValidRegion("eastasia"))
	assert.True(t, ValidRegion("westeurope"))
	assert.False(t, ValidRegion("moonbase"))
}
