// Package validation decides whether a card list is tournament legal.
// It never changes the cards it inspects.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KyleGowen/excelsior-sub010/internal/catalog"
	"github.com/KyleGowen/excelsior-sub010/internal/models"
)

// Rules holds the composition thresholds. A zero value disables the
// mission, threat and deck-size rules; RosterSize is always enforced.
type Rules struct {
	RosterSize            int
	MissionCount          int
	MaxThreat             int
	MinDeckSize           int
	MinDeckSizeWithEvents int
}

func DefaultRules() Rules {
	return Rules{
		RosterSize:            4,
		MissionCount:          7,
		MaxThreat:             76,
		MinDeckSize:           51,
		MinDeckSizeWithEvents: 56,
	}
}

type Result struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	// LocationCount is the number of location cards seen, by quantity.
	LocationCount int `json:"-"`
	// ReserveValid is false when a reserve was named but is not one of the
	// deck's characters.
	ReserveValid bool `json:"-"`
}

func (r Result) IsLegal() bool {
	return len(r.Errors) == 0
}

var knownTypes = map[string]bool{
	models.CardTypeCharacter:        true,
	models.CardTypeLocation:         true,
	models.CardTypeMission:          true,
	models.CardTypeSpecial:          true,
	models.CardTypePower:            true,
	models.CardTypeEvent:            true,
	models.CardTypeAspect:           true,
	models.CardTypeAdvancedUniverse: true,
	models.CardTypeTeamwork:         true,
	models.CardTypeAllyUniverse:     true,
	models.CardTypeTraining:         true,
	models.CardTypeBasicUniverse:    true,
}

func KnownCardType(cardType string) bool {
	return knownTypes[cardType]
}

type Validator struct {
	catalog catalog.Lookup
	rules   Rules
}

func New(lookup catalog.Lookup, rules Rules) *Validator {
	return &Validator{catalog: lookup, rules: rules}
}

func (v *Validator) Rules() Rules {
	return v.rules
}

// IsLegal reports whether the cards pass every rule.
func (v *Validator) IsLegal(cards []models.DeckCard, reserveCharacterID string) bool {
	return v.Validate(cards, reserveCharacterID).IsLegal()
}

func (v *Validator) Validate(cards []models.DeckCard, reserveCharacterID string) Result {
	res := Result{
		Errors:       []string{},
		Warnings:     []string{},
		ReserveValid: true,
	}

	known := make(map[int]models.CardAttributes, len(cards))
	for i, card := range cards {
		if !KnownCardType(card.Type) {
			res.Errors = append(res.Errors, fmt.Sprintf("Unknown card type %q", card.Type))
			continue
		}
		attrs, ok := v.catalog.Get(card.Type, card.CardID)
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("Unknown %s card %q", card.Type, card.CardID))
			continue
		}
		known[i] = attrs
	}

	characterCount := countByType(cards, models.CardTypeCharacter)
	if characterCount != v.rules.RosterSize {
		res.Errors = append(res.Errors, fmt.Sprintf("Deck must have exactly %d characters (found %d)", v.rules.RosterSize, characterCount))
	}

	res.LocationCount = countByType(cards, models.CardTypeLocation)
	if res.LocationCount > 1 {
		res.Errors = append(res.Errors, fmt.Sprintf("Deck may have at most 1 location (found %d)", res.LocationCount))
	}

	if reserveCharacterID != "" && !hasCharacter(cards, reserveCharacterID) {
		res.ReserveValid = false
		res.Warnings = append(res.Warnings, fmt.Sprintf("Reserve character %q is not one of the deck's characters and was cleared", reserveCharacterID))
	}

	v.checkQuantities(cards, known, &res)
	v.checkMissions(cards, known, &res)
	v.checkThreat(cards, known, &res)
	v.checkDeckSize(cards, &res)
	v.checkSpecials(cards, known, &res)
	v.checkPowers(cards, known, &res)
	v.checkEvents(cards, known, &res)

	return res
}

// maxCopies is the catalog-defined upper bound for one entry; zero means
// the type has no cap.
func maxCopies(cardType string, attrs models.CardAttributes) int {
	if attrs.MaxPerDeck > 0 {
		return attrs.MaxPerDeck
	}
	if attrs.OnePerDeck {
		return 1
	}
	switch cardType {
	case models.CardTypeCharacter, models.CardTypeLocation, models.CardTypeMission:
		return 1
	}
	return 0
}

func (v *Validator) checkQuantities(cards []models.DeckCard, known map[int]models.CardAttributes, res *Result) {
	for i, card := range cards {
		if card.Quantity < 1 {
			res.Errors = append(res.Errors, fmt.Sprintf("%q must have a quantity of at least 1 (found %d)", displayName(card, known[i]), card.Quantity))
			continue
		}
		attrs, ok := known[i]
		if !ok {
			continue
		}
		if max := maxCopies(card.Type, attrs); max > 0 && card.Quantity > max {
			res.Errors = append(res.Errors, fmt.Sprintf("%q is limited to %d per deck (found %d)", displayName(card, attrs), max, card.Quantity))
		}
	}
}

func (v *Validator) checkMissions(cards []models.DeckCard, known map[int]models.CardAttributes, res *Result) {
	if v.rules.MissionCount <= 0 {
		return
	}

	missionCount := countByType(cards, models.CardTypeMission)
	if missionCount != v.rules.MissionCount {
		res.Errors = append(res.Errors, fmt.Sprintf("Deck must have exactly %d mission cards (found %d)", v.rules.MissionCount, missionCount))
		return
	}

	sets := missionSets(cards, known)
	if len(sets) > 1 {
		res.Errors = append(res.Errors, fmt.Sprintf("All mission cards must be from the same mission set (found: %s)", strings.Join(sets, ", ")))
	}
}

func (v *Validator) checkThreat(cards []models.DeckCard, known map[int]models.CardAttributes, res *Result) {
	if v.rules.MaxThreat <= 0 {
		return
	}

	total := 0
	for i, card := range cards {
		if card.Type == models.CardTypeCharacter {
			total += known[i].Threat * card.Quantity
		}
	}
	if total > v.rules.MaxThreat {
		res.Errors = append(res.Errors, fmt.Sprintf("Deck threat level must be %d or less (found %d)", v.rules.MaxThreat, total))
	}
}

func (v *Validator) checkDeckSize(cards []models.DeckCard, res *Result) {
	if v.rules.MinDeckSize <= 0 {
		return
	}

	required := v.rules.MinDeckSize
	if countByType(cards, models.CardTypeEvent) > 0 && v.rules.MinDeckSizeWithEvents > required {
		required = v.rules.MinDeckSizeWithEvents
	}

	total := 0
	for _, card := range cards {
		total += card.Quantity
	}
	if total < required {
		res.Errors = append(res.Errors, fmt.Sprintf("Deck must have at least %d cards (found %d)", required, total))
	}
}

func (v *Validator) checkSpecials(cards []models.DeckCard, known map[int]models.CardAttributes, res *Result) {
	names := characterNames(cards, known)
	for i, card := range cards {
		if card.Type != models.CardTypeSpecial {
			continue
		}
		attrs, ok := known[i]
		if !ok || attrs.CharacterName == "" || attrs.CharacterName == "Any Character" {
			continue
		}
		if !names[attrs.CharacterName] {
			res.Errors = append(res.Errors, fmt.Sprintf("%q requires character %q in your team", displayName(card, attrs), attrs.CharacterName))
		}
	}
}

func (v *Validator) checkPowers(cards []models.DeckCard, known map[int]models.CardAttributes, res *Result) {
	var roster []models.CardAttributes
	for i, card := range cards {
		if attrs, ok := known[i]; ok && card.Type == models.CardTypeCharacter {
			roster = append(roster, attrs)
		}
	}

	for i, card := range cards {
		if card.Type != models.CardTypePower {
			continue
		}
		attrs, ok := known[i]
		if !ok || attrs.PowerType == "" || attrs.Value <= 0 {
			continue
		}

		usable := false
		for _, character := range roster {
			if statFor(character, attrs.PowerType) >= attrs.Value {
				usable = true
				break
			}
		}
		if !usable {
			res.Errors = append(res.Errors, fmt.Sprintf("%q (Power Card) requires a character with %d+ %s", displayName(card, attrs), attrs.Value, attrs.PowerType))
		}
	}
}

func (v *Validator) checkEvents(cards []models.DeckCard, known map[int]models.CardAttributes, res *Result) {
	sets := missionSets(cards, known)
	if len(sets) == 0 {
		return
	}
	inDeck := make(map[string]bool, len(sets))
	for _, s := range sets {
		inDeck[s] = true
	}

	for i, card := range cards {
		if card.Type != models.CardTypeEvent {
			continue
		}
		attrs, ok := known[i]
		if !ok || attrs.MissionSet == "" || attrs.MissionSet == "Any-Mission" {
			continue
		}
		if !inDeck[attrs.MissionSet] {
			res.Errors = append(res.Errors, fmt.Sprintf("%q requires mission set %q in your deck", displayName(card, attrs), attrs.MissionSet))
		}
	}
}

func statFor(character models.CardAttributes, powerType string) int {
	switch powerType {
	case "Energy":
		return character.Energy
	case "Combat":
		return character.Combat
	case "Brute Force":
		return character.BruteForce
	case "Intelligence":
		return character.Intelligence
	case "Any-Power", "Multi-Power", "Multi Power":
		best := character.Energy
		for _, s := range []int{character.Combat, character.BruteForce, character.Intelligence} {
			if s > best {
				best = s
			}
		}
		return best
	}
	return 0
}

func countByType(cards []models.DeckCard, cardType string) int {
	total := 0
	for _, card := range cards {
		if card.Type == cardType {
			total += card.Quantity
		}
	}
	return total
}

func hasCharacter(cards []models.DeckCard, cardID string) bool {
	for _, card := range cards {
		if card.Type == models.CardTypeCharacter && card.CardID == cardID {
			return true
		}
	}
	return false
}

func missionSets(cards []models.DeckCard, known map[int]models.CardAttributes) []string {
	seen := make(map[string]bool)
	var sets []string
	for i, card := range cards {
		if card.Type != models.CardTypeMission {
			continue
		}
		if set := known[i].MissionSet; set != "" && !seen[set] {
			seen[set] = true
			sets = append(sets, set)
		}
	}
	sort.Strings(sets)
	return sets
}

func characterNames(cards []models.DeckCard, known map[int]models.CardAttributes) map[string]bool {
	names := make(map[string]bool)
	for i, card := range cards {
		if attrs, ok := known[i]; ok && card.Type == models.CardTypeCharacter {
			names[attrs.Name] = true
		}
	}
	return names
}

func displayName(card models.DeckCard, attrs models.CardAttributes) string {
	if attrs.Name != "" {
		return attrs.Name
	}
	return card.CardID
}
