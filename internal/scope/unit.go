package scope

import (
	"context"

	"github.com/google/uuid"
)

// Unit identifies the execution carrying one request or job. Units are
// minted fresh for every scope and never reused.
type Unit string

// NewUnit mints a new time-ordered unit identifier.
func NewUnit() Unit {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Unit(id.String())
}

func (u Unit) String() string { return string(u) }

type unitKey struct{}

// WithUnit returns a copy of ctx carrying unit.
func WithUnit(ctx context.Context, unit Unit) context.Context {
	return context.WithValue(ctx, unitKey{}, unit)
}

// UnitFromContext returns the unit carried by ctx.
func UnitFromContext(ctx context.Context) (Unit, bool) {
	unit, ok := ctx.Value(unitKey{}).(Unit)
	return unit, ok && unit != ""
}
