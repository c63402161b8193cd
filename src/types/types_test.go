package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketColumn(t *testing.T) {
	tests := []struct {
		kind   Kind
		period Period
		want   string
	}{
		{KindChat, PeriodDaily, "chat_daily"},
		{KindChat, PeriodAllTime, "chat_alltime"},
		{KindVoice, PeriodWeekly, "voice_weekly"},
		{KindVoice, PeriodMonthly, "voice_monthly"},
		{Kind("chess"), PeriodDaily, ""},
		{KindChat, Period("decade"), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketColumn(tt.kind, tt.period), "%s/%s", tt.kind, tt.period)
	}
}

func TestMemberStatsAccessors(t *testing.T) {
	m := MemberStats{
		ChatDaily: 1, ChatWeekly: 2, ChatMonthly: 3, ChatAllTime: 4,
		VoiceDaily: 1.5, VoiceWeekly: 2.5, VoiceMonthly: 3.5, VoiceAllTime: 4.5,
	}
	assert.Equal(t, uint64(2), m.Chat(PeriodWeekly))
	assert.Equal(t, uint64(4), m.Chat(PeriodAllTime))
	assert.Equal(t, 1.5, m.Voice(PeriodDaily))
	assert.Equal(t, 4.5, m.Voice(PeriodAllTime))
}
