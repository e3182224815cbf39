package domain

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func sampleLibrary() *Library {
	lib := NewLibrary()

	lib.MergeVideo(&Video{
		ID:    "vid1",
		Title: "Bleed cover",
		Tags:  []string{"drums", "metal"},
		Insight: &Insight{
			Roles:      map[string]string{"drummer": "Anika", "artist": "Meshuggah"},
			Themes:     []string{"djent"},
			Confidence: 0.9,
		},
	})
	lib.Videos["vid1"].Annotation = AnnotationDone

	lib.MergeVideo(&Video{
		ID:    "vid2",
		Title: "Solo practice",
		Tags:  []string{"drums"},
	})

	lib.Playlists["PL1"] = &Playlist{
		ID:        "PL1",
		Title:     "Covers",
		VideoIDs:  []string{"vid1", "vid2"},
		ItemCount: 2,
	}

	lib.RebuildIndexes()
	lib.RefreshTotals()
	return lib
}

func TestRebuildIndexes(t *testing.T) {
	lib := sampleLibrary()

	if got := lib.ByTag["drums"]; !reflect.DeepEqual(got, []string{"vid1", "vid2"}) {
		t.Errorf("ByTag[drums] = %v, want [vid1 vid2]", got)
	}
	if got := lib.ByCreator["anika"]; !reflect.DeepEqual(got, []string{"vid1"}) {
		t.Errorf("ByCreator[anika] = %v, want [vid1]", got)
	}
	if got := lib.ByTheme["djent"]; !reflect.DeepEqual(got, []string{"vid1"}) {
		t.Errorf("ByTheme[djent] = %v, want [vid1]", got)
	}

	// No index entry for videos without insight
	if _, ok := lib.ByCreator[""]; ok {
		t.Error("Empty creator key should never be indexed")
	}
}

func TestRebuildIndexes_Idempotent(t *testing.T) {
	lib := sampleLibrary()

	first := struct {
		creator, tag, theme map[string][]string
	}{lib.ByCreator, lib.ByTag, lib.ByTheme}

	lib.RebuildIndexes()

	if !reflect.DeepEqual(first.creator, lib.ByCreator) {
		t.Errorf("Creator index changed on second rebuild: %v vs %v", first.creator, lib.ByCreator)
	}
	if !reflect.DeepEqual(first.tag, lib.ByTag) {
		t.Errorf("Tag index changed on second rebuild: %v vs %v", first.tag, lib.ByTag)
	}
	if !reflect.DeepEqual(first.theme, lib.ByTheme) {
		t.Errorf("Theme index changed on second rebuild: %v vs %v", first.theme, lib.ByTheme)
	}
}

func TestRebuildIndexes_DedupesSharedNames(t *testing.T) {
	lib := NewLibrary()
	lib.MergeVideo(&Video{
		ID: "vid1",
		Insight: &Insight{
			// Same person in two roles must index once
			Roles: map[string]string{"drummer": "Sam", "producer": "Sam"},
		},
	})
	lib.RebuildIndexes()

	if got := lib.ByCreator["sam"]; !reflect.DeepEqual(got, []string{"vid1"}) {
		t.Errorf("ByCreator[sam] = %v, want [vid1]", got)
	}
}

func TestCheckIntegrity(t *testing.T) {
	lib := sampleLibrary()
	if err := lib.CheckIntegrity(); err != nil {
		t.Fatalf("Expected intact library, got: %v", err)
	}

	// Dangling playlist reference
	lib.Playlists["PL1"].VideoIDs = append(lib.Playlists["PL1"].VideoIDs, "ghost")
	err := lib.CheckIntegrity()
	if err == nil {
		t.Fatal("Expected integrity error for dangling playlist reference")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Errorf("Error should name the missing id, got: %v", err)
	}
}

func TestCheckIntegrity_DoneWithoutInsight(t *testing.T) {
	lib := NewLibrary()
	lib.Videos["vid1"] = &Video{ID: "vid1", Annotation: AnnotationDone}

	err := lib.CheckIntegrity()
	if err == nil {
		t.Fatal("Expected integrity error for done video without insight")
	}
	if !strings.Contains(err.Error(), "without insight") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCheckIntegrity_DanglingIndexEntry(t *testing.T) {
	lib := sampleLibrary()
	lib.ByTag["drums"] = append(lib.ByTag["drums"], "ghost")

	if err := lib.CheckIntegrity(); err == nil {
		t.Fatal("Expected integrity error for dangling index entry")
	}
}

func TestMergeVideo_PreservesAnnotationState(t *testing.T) {
	lib := sampleLibrary()
	collected := lib.Videos["vid1"].CollectedAt

	merged := lib.MergeVideo(&Video{
		ID:        "vid1",
		Title:     "Bleed cover (remastered)",
		ViewCount: 500,
	})

	if merged.Title != "Bleed cover (remastered)" {
		t.Errorf("Title not refreshed: %s", merged.Title)
	}
	if merged.Annotation != AnnotationDone {
		t.Errorf("Annotation state lost on merge: %s", merged.Annotation)
	}
	if merged.Insight == nil {
		t.Error("Insight lost on merge")
	}
	if !merged.CollectedAt.Equal(collected) {
		t.Error("CollectedAt should survive re-collection")
	}
	if len(lib.Videos) != 2 {
		t.Errorf("Merge should not add a duplicate, have %d videos", len(lib.Videos))
	}
}

func TestMergeVideo_NewVideoDefaults(t *testing.T) {
	lib := NewLibrary()
	v := lib.MergeVideo(&Video{ID: "fresh", Title: "New"})

	if v.Annotation != AnnotationPending {
		t.Errorf("Expected pending annotation, got %s", v.Annotation)
	}
	if v.CollectedAt.IsZero() {
		t.Error("CollectedAt should be stamped on first collection")
	}
}

func TestRemoveVideo_Cascades(t *testing.T) {
	lib := sampleLibrary()

	if !lib.RemoveVideo("vid1") {
		t.Fatal("Expected RemoveVideo to report success")
	}

	if _, ok := lib.Videos["vid1"]; ok {
		t.Error("Video still present after removal")
	}
	for _, id := range lib.Playlists["PL1"].VideoIDs {
		if id == "vid1" {
			t.Error("Playlist still references removed video")
		}
	}
	if lib.Playlists["PL1"].ItemCount != 1 {
		t.Errorf("ItemCount = %d, want 1", lib.Playlists["PL1"].ItemCount)
	}
	for key, ids := range lib.ByTag {
		for _, id := range ids {
			if id == "vid1" {
				t.Errorf("Tag index %q still references removed video", key)
			}
		}
	}
	if _, ok := lib.ByCreator["anika"]; ok {
		t.Error("Creator index entry should disappear with its only video")
	}
	if lib.TotalVideos != 1 {
		t.Errorf("TotalVideos = %d, want 1", lib.TotalVideos)
	}

	if err := lib.CheckIntegrity(); err != nil {
		t.Errorf("Library should stay intact after removal: %v", err)
	}

	if lib.RemoveVideo("vid1") {
		t.Error("Removing a missing video should report false")
	}
}

func TestPendingAnnotation(t *testing.T) {
	lib := NewLibrary()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	add := func(id string, status AnnotationStatus, retries int, offset time.Duration) {
		lib.Videos[id] = &Video{
			ID:          id,
			Annotation:  status,
			RetryCount:  retries,
			CollectedAt: base.Add(offset),
		}
	}

	add("pending_old", AnnotationPending, 0, 0)
	add("pending_new", AnnotationPending, 0, time.Hour)
	add("failed_low", AnnotationFailed, 1, 2*time.Hour)
	add("failed_capped", AnnotationFailed, 3, 3*time.Hour)
	add("done", AnnotationDone, 0, 4*time.Hour)
	add("skipped", AnnotationSkipped, 0, 5*time.Hour)

	got := lib.PendingAnnotation(0, 3, false)
	ids := make([]string, len(got))
	for i, v := range got {
		ids[i] = v.ID
	}
	want := []string{"pending_old", "pending_new", "failed_low"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("PendingAnnotation = %v, want %v", ids, want)
	}

	// Force includes permanently failed videos
	forced := lib.PendingAnnotation(0, 3, true)
	if len(forced) != 4 {
		t.Errorf("Forced selection size = %d, want 4", len(forced))
	}

	// Limit applies after ordering
	limited := lib.PendingAnnotation(2, 3, false)
	if len(limited) != 2 || limited[0].ID != "pending_old" {
		t.Errorf("Limited selection wrong: %v", limited)
	}
}
