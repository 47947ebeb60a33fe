package match

import "strings"

// Class is the scoring class of a round submission.
type Class string

const (
	ClassBoth Class = "BOTH"
	ClassOne  Class = "ONE"
	ClassNone Class = "NONE"
)

// Pace bounds and elimination cadence.
const (
	MinPace = 0
	MaxPace = 10

	// EliminationInterval is the round cadence at which the
	// elimination check runs.
	EliminationInterval = 6
)

// Acceptance thresholds. The short threshold applies when the shorter
// normalized operand is at most shortOperandLen characters.
const (
	defaultThreshold = 0.75
	shortThreshold   = 0.85
	shortOperandLen  = 5
)

// Outcome is the scored result of a single player's submission.
type Outcome struct {
	Class         Class
	SongCorrect   bool
	ArtistCorrect bool
}

func acceptThreshold(a, b string) float64 {
	shorter := len(a)
	if len(b) < shorter {
		shorter = len(b)
	}
	if shorter <= shortOperandLen {
		return shortThreshold
	}
	return defaultThreshold
}

// TitleCorrect reports whether a submitted title matches the track
// name under normalization and the length-sensitive threshold.
func TitleCorrect(guess, trackName string) bool {
	g, t := Normalize(guess), Normalize(trackName)
	return Similarity(g, t) >= acceptThreshold(g, t)
}

// ArtistCorrect reports whether a submitted artist matches any of the
// track's artists. Besides the similarity threshold, a match is also
// granted when one normalized name contains the other and the shorter
// is at least half the longer's length.
func ArtistCorrect(guess string, artists []string) bool {
	g := Normalize(guess)
	if g == "" {
		return false
	}
	for _, artist := range artists {
		a := Normalize(artist)
		if a == "" {
			continue
		}
		if Similarity(g, a) >= acceptThreshold(g, a) {
			return true
		}
		if containsWithRatio(g, a) {
			return true
		}
	}
	return false
}

func containsWithRatio(a, b string) bool {
	shorter, longer := a, b
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(longer) == 0 {
		return false
	}
	if float64(len(shorter))/float64(len(longer)) < 0.5 {
		return false
	}
	return strings.Contains(longer, shorter)
}

// ScoreAnswer scores a submission against the revealed track.
func ScoreAnswer(songTitle, artistGuess, trackName string, artists []string) Outcome {
	song := TitleCorrect(songTitle, trackName)
	artist := ArtistCorrect(artistGuess, artists)

	var class Class
	switch {
	case song && artist:
		class = ClassBoth
	case song || artist:
		class = ClassOne
	default:
		class = ClassNone
	}

	return Outcome{Class: class, SongCorrect: song, ArtistCorrect: artist}
}

// PaceDelta maps a scoring class to its pace adjustment.
func PaceDelta(c Class) int {
	switch c {
	case ClassBoth:
		return 1
	case ClassOne:
		return 0
	default:
		return -3
	}
}

// ClampPace bounds a pace value to [MinPace, MaxPace].
func ClampPace(pace int) int {
	if pace < MinPace {
		return MinPace
	}
	if pace > MaxPace {
		return MaxPace
	}
	return pace
}

// EliminationThreshold is the pace gap at or beyond which a player is
// eliminated at round r: max(1, 10 - ((r-1) / 6)).
func EliminationThreshold(round int) int {
	t := MaxPace - (round-1)/EliminationInterval
	if t < 1 {
		return 1
	}
	return t
}

// IsEliminationRound reports whether the elimination check runs after
// round r.
func IsEliminationRound(round int) bool {
	return round > 0 && round%EliminationInterval == 0
}
