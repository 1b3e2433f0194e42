package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Document defaults for a fresh install.
const (
	DefaultCoins         = 50
	DefaultGems          = 10
	DefaultMaxGoodHabits = 1
	DefaultTreeStage     = 1
	DefaultExpToLevel    = 40
)

// ErrMalformed is returned by Decode when the payload is not a progress document.
var ErrMalformed = errors.New("malformed progress document")

// Document is a user's complete progress state.
// JSON field names match the documents stored by the mobile client.
type Document struct {
	GoodHabits          []GoodHabit     `json:"goodHabits"`
	BadHabits           []BadHabit      `json:"badHabits"`
	Coins               int             `json:"coins"`
	Gems                int             `json:"gems"`
	Exp                 int             `json:"exp"`
	Decay               int             `json:"decay"`
	LastOpenDate        string          `json:"lastOpenDate,omitempty"`
	CalendarBoughtCount int             `json:"calendarBoughtCount"`
	MaxGoodHabits       int             `json:"maxGoodHabits"`
	TreeStage           int             `json:"treeStage"`
	ExpToLevel          int             `json:"expToLevel"`
	CheckedGoodToday    map[string]bool `json:"checkedGoodToday"`
	CheckedBadToday     map[string]bool `json:"checkedBadToday"`

	// UpdatedAt orders document versions for merge. Zero means "oldest".
	UpdatedAt int64 `json:"updatedAt,omitempty"`
}

// GoodHabit is a habit the user is rewarded for completing.
type GoodHabit struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	ExpLevel    int            `json:"expLevel"`
	GoldLevel   int            `json:"goldLevel"`
	IsCompleted bool           `json:"isCompleted,omitempty"`
	Upgrades    map[string]int `json:"upgrades,omitempty"`
}

// BadHabit is a habit the user is penalized for giving in to.
type BadHabit struct {
	ID           string         `json:"id,omitempty"`
	Name         string         `json:"name"`
	DecayLevel   int            `json:"decayLevel"`
	ExpLossLevel int            `json:"expLossLevel"`
	Upgrades     map[string]int `json:"upgrades,omitempty"`
}

// Default returns the document a brand new owner starts with.
func Default(updatedAt int64) Document {
	return Document{
		GoodHabits:       []GoodHabit{},
		BadHabits:        []BadHabit{},
		Coins:            DefaultCoins,
		Gems:             DefaultGems,
		MaxGoodHabits:    DefaultMaxGoodHabits,
		TreeStage:        DefaultTreeStage,
		ExpToLevel:       DefaultExpToLevel,
		CheckedGoodToday: map[string]bool{},
		CheckedBadToday:  map[string]bool{},
		UpdatedAt:        updatedAt,
	}
}

// Decode parses a stored document and fills in fields older clients omitted.
// Anything that is not a JSON object yields an error wrapping ErrMalformed.
func Decode(data []byte) (Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Document{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc.normalize()
	return doc, nil
}

// Encode serializes a document for storage or transport.
func Encode(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode progress document: %w", err)
	}
	return data, nil
}

// normalize applies the client's fallbacks for missing or out-of-range fields.
func (d *Document) normalize() {
	if d.GoodHabits == nil {
		d.GoodHabits = []GoodHabit{}
	}
	if d.BadHabits == nil {
		d.BadHabits = []BadHabit{}
	}
	if d.CheckedGoodToday == nil {
		d.CheckedGoodToday = map[string]bool{}
	}
	if d.CheckedBadToday == nil {
		d.CheckedBadToday = map[string]bool{}
	}
	d.Coins = max(d.Coins, 0)
	d.Gems = max(d.Gems, 0)
	d.Exp = max(d.Exp, 0)
	d.Decay = max(d.Decay, 0)
	d.CalendarBoughtCount = max(d.CalendarBoughtCount, 0)
	if d.MaxGoodHabits <= 0 {
		d.MaxGoodHabits = DefaultMaxGoodHabits
	}
	if d.TreeStage <= 0 {
		d.TreeStage = DefaultTreeStage
	}
	if d.ExpToLevel <= 0 {
		d.ExpToLevel = DefaultExpToLevel
	}
	if d.UpdatedAt < 0 {
		d.UpdatedAt = 0
	}
}

// Clone returns a deep copy that shares no slices or maps with d.
func (d Document) Clone() Document {
	out := d
	if d.GoodHabits != nil {
		out.GoodHabits = make([]GoodHabit, len(d.GoodHabits))
		for i, h := range d.GoodHabits {
			h.Upgrades = cloneLevels(h.Upgrades)
			out.GoodHabits[i] = h
		}
	}
	if d.BadHabits != nil {
		out.BadHabits = make([]BadHabit, len(d.BadHabits))
		for i, h := range d.BadHabits {
			h.Upgrades = cloneLevels(h.Upgrades)
			out.BadHabits[i] = h
		}
	}
	out.CheckedGoodToday = cloneChecks(d.CheckedGoodToday)
	out.CheckedBadToday = cloneChecks(d.CheckedBadToday)
	return out
}

func cloneChecks(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneLevels(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
