package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotationValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		annotation Annotation
		wantErr    bool
	}{
		{name: "empty_ok", annotation: Annotation{}},
		{name: "positive_feedback", annotation: Annotation{Feedback: FeedbackPositive}},
		{name: "full_rating", annotation: Annotation{Rating: 5}},
		{name: "unknown_feedback", annotation: Annotation{Feedback: "meh"}, wantErr: true},
		{name: "rating_too_high", annotation: Annotation{Rating: 6}, wantErr: true},
		{name: "rating_negative", annotation: Annotation{Rating: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.annotation.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAnnotationStore_SetGet(t *testing.T) {
	t.Parallel()

	store := NewAnnotationStore(t.TempDir())

	_, ok, err := store.Get("corr:s1")
	require.NoError(t, err)
	assert.False(t, ok)

	saved, err := store.Set("corr:s1", Annotation{
		Feedback: FeedbackPositive,
		Notes:    "solved it on the second try",
		Tags:     []string{"auth"},
		Rating:   4,
	})
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	got, ok, err := store.Get("corr:s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FeedbackPositive, got.Feedback)
	assert.Equal(t, 4, got.Rating)
}

func TestAnnotationStore_SetRejectsInvalid(t *testing.T) {
	t.Parallel()

	store := NewAnnotationStore(t.TempDir())

	_, err := store.Set("corr:s1", Annotation{Rating: 9})
	assert.Error(t, err)

	_, err = store.Set("", Annotation{})
	assert.Error(t, err)

	all, err := store.All()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAnnotationStore_OverwriteReplaces(t *testing.T) {
	t.Parallel()

	store := NewAnnotationStore(t.TempDir())

	_, err := store.Set("corr:s1", Annotation{Feedback: FeedbackNegative, Notes: "looping"})
	require.NoError(t, err)
	_, err = store.Set("corr:s1", Annotation{Feedback: FeedbackPositive})
	require.NoError(t, err)

	got, ok, err := store.Get("corr:s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FeedbackPositive, got.Feedback)
	assert.Empty(t, got.Notes)

	all, err := store.All()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
