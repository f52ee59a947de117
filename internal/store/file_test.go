package store

import (
	"context"
	"path/filepath"
	"testing"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "reminders.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	doc := &fileDoc{Reminders: []reminder.Reminder{
		{Kind: reminder.KindAlarm, ID: "a1", OwnerID: "u1", Times: []string{"07:00"}, Date: "2024-03-01", Active: true},
		{Kind: reminder.KindAlarm, ID: "a2", OwnerID: "u1", Times: []string{"08:00"}, Active: false},
		{Kind: reminder.KindMedicine, ID: "m1", OwnerID: "u1", Name: "aspirin", Times: []string{"08:00", "20:00"}, Active: true},
	}}
	if err := writeFileDoc(path, doc); err != nil {
		t.Fatalf("writeFileDoc: %v", err)
	}

	ctx := context.Background()

	alarms, err := st.ListActive(ctx, reminder.KindAlarm)
	if err != nil {
		t.Fatalf("ListActive(alarm): %v", err)
	}
	if len(alarms) != 1 || alarms[0].ID != "a1" {
		t.Fatalf("expected only active alarm a1, got %+v", alarms)
	}

	meds, err := st.ListActive(ctx, reminder.KindMedicine)
	if err != nil {
		t.Fatalf("ListActive(medicine): %v", err)
	}
	if len(meds) != 1 || len(meds[0].Times) != 2 {
		t.Fatalf("unexpected medicines: %+v", meds)
	}

	if err := st.SetActive(ctx, reminder.KindAlarm, "a1", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	// idempotent
	if err := st.SetActive(ctx, reminder.KindAlarm, "a1", false); err != nil {
		t.Fatalf("SetActive twice: %v", err)
	}
	// unknown id is not an error
	if err := st.SetActive(ctx, reminder.KindAlarm, "ghost", false); err != nil {
		t.Fatalf("SetActive unknown id: %v", err)
	}

	alarms, err = st.ListActive(ctx, reminder.KindAlarm)
	if err != nil {
		t.Fatalf("ListActive after deactivation: %v", err)
	}
	if len(alarms) != 0 {
		t.Fatalf("a1 still listed after deactivation: %+v", alarms)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled storage: st=%v err=%v", st, err)
	}
	if _, err := Open(Config{Driver: "bolt", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
