// Copyright 2025 The jetqueue Authors. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package base

import "testing"

func TestQueueKeys(t *testing.T) {
	tests := []struct {
		prefix string
		qname  string
		fn     func(string, string) string
		want   string
	}{
		{"jet", "default", WaitingKey, "jet:{default}:waiting"},
		{"jet", "default", ActiveKey, "jet:{default}:active"},
		{"jet", "default", DelayedKey, "jet:{default}:delayed"},
		{"jet", "default", PausedKey, "jet:{default}:paused"},
		{"jet", "default", JobKeyPrefix, "jet:{default}:job:"},
		{"custom", "email", WaitingKey, "custom:{email}:waiting"},
	}
	for _, tc := range tests {
		if got := tc.fn(tc.prefix, tc.qname); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

func TestJobKey(t *testing.T) {
	got := JobKey("jet", "default", "abc123")
	want := "jet:{default}:job:abc123"
	if got != want {
		t.Errorf("JobKey = %q, want %q", got, want)
	}
}

func TestValidateQueueName(t *testing.T) {
	if err := ValidateQueueName("default"); err != nil {
		t.Errorf("ValidateQueueName(%q) = %v, want nil", "default", err)
	}
	for _, qname := range []string{"", "  ", "\t"} {
		if err := ValidateQueueName(qname); err == nil {
			t.Errorf("ValidateQueueName(%q) = nil, want error", qname)
		}
	}
}

func TestQueueCountsTotal(t *testing.T) {
	c := QueueCounts{Waiting: 3, Active: 2, Delayed: 1}
	if got := c.Total(); got != 6 {
		t.Errorf("Total() = %d, want 6", got)
	}
}
