// Package authz decides whether a deck operation may proceed. Checks run in
// a fixed order and the first failure is the answer.
package authz

import (
	"fmt"
	"net/http"

	"github.com/KyleGowen/excelsior-sub010/internal/models"
	"github.com/KyleGowen/excelsior-sub010/internal/ratelimit"
)

type Operation string

const (
	OpList          Operation = "list"
	OpRead          Operation = "read"
	OpStats         Operation = "stats"
	OpValidate      Operation = "validate"
	OpCreate        Operation = "create"
	OpUpdate        Operation = "update"
	OpAddCard       Operation = "add_card"
	OpRemoveCard    Operation = "remove_card"
	OpReplaceCards  Operation = "replace_cards"
	OpSetReserve    Operation = "set_reserve"
	OpUIPreferences Operation = "ui_preferences"
	OpDelete        Operation = "delete"

	OpReadUIPreferences Operation = "read_ui_preferences"
)

// Mutating reports whether the operation changes stored decks.
func (o Operation) Mutating() bool {
	switch o {
	case OpList, OpRead, OpStats, OpValidate, OpReadUIPreferences:
		return false
	}
	return true
}

// OwnerOnly reports whether only the deck owner may perform the operation.
func (o Operation) OwnerOnly() bool {
	return o.Mutating() || o == OpReadUIPreferences
}

// Payload is the request input that the last stage checks. Nil fields are
// absent from the request.
type Payload struct {
	Name          *string
	Description   *string
	CardType      *string
	CardID        *string
	Quantity      *int
	Cards         []models.DeckCard
	HasCards      bool
	Characters    []string
	UIPreferences []byte
}

// Context carries everything the gate needs for one decision.
type Context struct {
	User          models.User
	Operation     Operation
	TargetID      string
	Deck          *models.Deck
	ReadOnly      bool
	ClientAddress string
	Payload       Payload
}

// Denial is a refusal with the HTTP status it maps to.
type Denial struct {
	Status int
	Reason string
}

func (d *Denial) Error() string {
	return d.Reason
}

func deny(status int, format string, args ...interface{}) *Denial {
	return &Denial{Status: status, Reason: fmt.Sprintf(format, args...)}
}

type check func(*Gate, *Context) *Denial

type Gate struct {
	limiter *ratelimit.Limiter
	checks  []check
}

// New builds a gate. A nil limiter disables rate limiting.
func New(limiter *ratelimit.Limiter) *Gate {
	return &Gate{
		limiter: limiter,
		checks: []check{
			checkRateLimit,
			checkReadOnly,
			checkRole,
			checkOwnership,
			checkInput,
		},
	}
}

// Authorize returns nil when the operation may proceed.
func (g *Gate) Authorize(ctx *Context) *Denial {
	for _, c := range g.checks {
		if d := c(g, ctx); d != nil {
			return d
		}
	}
	return nil
}

func checkRateLimit(g *Gate, ctx *Context) *Denial {
	if g.limiter == nil {
		return nil
	}
	ok, policy := g.limiter.Allow(ctx.ClientAddress, string(ctx.Operation))
	if ok {
		return nil
	}
	return deny(http.StatusTooManyRequests, "rate limit exceeded: at most %d %s requests per %s", policy.Limit, ctx.Operation, policy.Window)
}

func checkReadOnly(_ *Gate, ctx *Context) *Denial {
	if ctx.ReadOnly && ctx.Operation.Mutating() {
		return deny(http.StatusForbidden, "operation not allowed in read-only mode")
	}
	return nil
}

func checkRole(_ *Gate, ctx *Context) *Denial {
	switch ctx.User.Role {
	case models.RoleUser, models.RoleAdmin:
		return nil
	case models.RoleGuest:
		if !ctx.Operation.Mutating() {
			return nil
		}
		switch ctx.Operation {
		case OpCreate:
			return deny(http.StatusForbidden, "guests may not create decks")
		case OpDelete:
			return deny(http.StatusForbidden, "guests may not delete decks")
		default:
			return deny(http.StatusForbidden, "guests may not modify decks")
		}
	default:
		return deny(http.StatusForbidden, "unknown role")
	}
}

// checkOwnership has no admin bypass: only the owner mutates a deck.
func checkOwnership(_ *Gate, ctx *Context) *Denial {
	if ctx.TargetID == "" {
		return nil
	}
	if ctx.Deck == nil {
		return deny(http.StatusNotFound, "deck not found")
	}
	if ctx.Operation.OwnerOnly() && ctx.Deck.OwnerID != ctx.User.ID {
		return deny(http.StatusForbidden, "access denied: you do not own this deck")
	}
	return nil
}
