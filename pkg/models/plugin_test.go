package models

import "testing"

func TestPluginValid(t *testing.T) {
	for _, p := range []Plugin{PluginNone, PluginBrowser, PluginWebSearch, PluginTerminal, PluginDeepResearch} {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}
	if Plugin("jailbreak").Valid() {
		t.Error("unknown plugin should not validate")
	}
}

func TestTierPremium(t *testing.T) {
	if TierFree.Premium() {
		t.Error("free tier must not be premium")
	}
	if !TierPremium.Premium() {
		t.Error("premium tier must be premium")
	}
}
