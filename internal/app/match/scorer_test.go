package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitleCorrect(t *testing.T) {
	tests := []struct {
		name      string
		guess     string
		trackName string
		want      bool
	}{
		{
			name:      "Exact match",
			guess:     "Bohemian Rhapsody",
			trackName: "Bohemian Rhapsody",
			want:      true,
		},
		{
			name:      "Minor typo accepted",
			guess:     "Bohemian Rapsody",
			trackName: "Bohemian Rhapsody",
			want:      true,
		},
		{
			name:      "Remaster suffix ignored",
			guess:     "Hotel California",
			trackName: "Hotel California - 2013 Remaster",
			want:      true,
		},
		{
			name:      "Acronym title",
			guess:     "pimp",
			trackName: "P.I.M.P. (Radio Edit) - Remastered 2003",
			want:      true,
		},
		{
			name:      "Wrong song",
			guess:     "Stairway to Heaven",
			trackName: "Bohemian Rhapsody",
			want:      false,
		},
		{
			name:      "Short title needs near exact",
			guess:     "hullo",
			trackName: "Hello",
			want:      false,
		},
		{
			name:      "Empty guess",
			guess:     "",
			trackName: "Bohemian Rhapsody",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleCorrect(tt.guess, tt.trackName))
		})
	}
}

func TestArtistCorrect(t *testing.T) {
	tests := []struct {
		name    string
		guess   string
		artists []string
		want    bool
	}{
		{
			name:    "Exact match",
			guess:   "Queen",
			artists: []string{"Queen"},
			want:    true,
		},
		{
			name:    "Any of several artists",
			guess:   "Jay-Z",
			artists: []string{"Beyoncé", "JAY-Z"},
			want:    true,
		},
		{
			name:    "Containment but ratio too small",
			guess:   "Tom Petty",
			artists: []string{"Tom Petty and the Heartbreakers"},
			want:    false,
		},
		{
			name:    "Containment accepted at half length",
			guess:   "Daft Punk",
			artists: []string{"Daft Punk Tribute"},
			want:    true,
		},
		{
			name:    "Wrong artist",
			guess:   "Queen",
			artists: []string{"The Beatles"},
			want:    false,
		},
		{
			name:    "Empty guess",
			guess:   "",
			artists: []string{"Queen"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtistCorrect(tt.guess, tt.artists))
		})
	}
}

func TestScoreAnswer(t *testing.T) {
	tests := []struct {
		name        string
		songTitle   string
		artistGuess string
		trackName   string
		artists     []string
		wantClass   Class
	}{
		{
			name:        "Both correct",
			songTitle:   "Bohemian Rhapsody",
			artistGuess: "Queen",
			trackName:   "Bohemian Rhapsody - Remastered 2011",
			artists:     []string{"Queen"},
			wantClass:   ClassBoth,
		},
		{
			name:        "Song only",
			songTitle:   "Bohemian Rhapsody",
			artistGuess: "The Beatles",
			trackName:   "Bohemian Rhapsody",
			artists:     []string{"Queen"},
			wantClass:   ClassOne,
		},
		{
			name:        "Artist only",
			songTitle:   "Somebody to Love",
			artistGuess: "Queen",
			trackName:   "Bohemian Rhapsody",
			artists:     []string{"Queen"},
			wantClass:   ClassOne,
		},
		{
			name:        "Neither",
			songTitle:   "Imagine",
			artistGuess: "John Lennon",
			trackName:   "Bohemian Rhapsody",
			artists:     []string{"Queen"},
			wantClass:   ClassNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreAnswer(tt.songTitle, tt.artistGuess, tt.trackName, tt.artists)
			assert.Equal(t, tt.wantClass, got.Class)
		})
	}
}

func TestPaceDelta(t *testing.T) {
	assert.Equal(t, 1, PaceDelta(ClassBoth))
	assert.Equal(t, 0, PaceDelta(ClassOne))
	assert.Equal(t, -3, PaceDelta(ClassNone))
}

func TestClampPace(t *testing.T) {
	assert.Equal(t, 0, ClampPace(-2))
	assert.Equal(t, 0, ClampPace(0))
	assert.Equal(t, 7, ClampPace(7))
	assert.Equal(t, 10, ClampPace(10))
	assert.Equal(t, 10, ClampPace(11))
}

func TestEliminationThreshold(t *testing.T) {
	tests := []struct {
		round int
		want  int
	}{
		{round: 6, want: 10},
		{round: 12, want: 9},
		{round: 18, want: 8},
		{round: 60, want: 1},
		{round: 120, want: 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EliminationThreshold(tt.round), "round %d", tt.round)
	}
}

func TestIsEliminationRound(t *testing.T) {
	assert.False(t, IsEliminationRound(0))
	assert.False(t, IsEliminationRound(5))
	assert.True(t, IsEliminationRound(6))
	assert.False(t, IsEliminationRound(7))
	assert.True(t, IsEliminationRound(12))
}
