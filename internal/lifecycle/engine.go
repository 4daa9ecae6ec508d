// Package lifecycle applies route and house transitions. Each operation validates its input,
// mutates the route or house, adjusts counters and appends history inside one store
// transaction, then announces the committed change.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collectroute/internal/feed"
	"collectroute/internal/metrics"
	"collectroute/internal/model"
	"collectroute/internal/store"
)

// Notifier is told about every committed change, after commit.
type Notifier interface {
	RouteChanged(ctx context.Context, c model.RouteChange)
}

type Engine struct {
	Store store.Store
	Feed  feed.Broker
	// Notifiers receive the same changes as Feed subscribers (webhooks, for instance).
	Notifiers []Notifier
	Now       func() time.Time
	NewID     func() string
	// AutoStart moves a pending route to in_progress on its first house update.
	AutoStart bool
	Log       *logrus.Entry

	validate *validator.Validate
}

func New(s store.Store, f feed.Broker) *Engine {
	if f == nil {
		f = feed.NewMemory()
	}
	return &Engine{
		Store:    s,
		Feed:     f,
		Now:      time.Now,
		NewID:    func() string { return uuid.New().String() },
		Log:      logrus.WithField("component", "lifecycle"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// CreateRouteInput describes a new route. Houses listed here are inserted in the same
// transaction; the route's total is the larger of TotalHouses and len(Houses).
type CreateRouteInput struct {
	Name        string       `json:"name" validate:"required,max=200"`
	TeamID      string       `json:"teamId" validate:"required"`
	DriverID    string       `json:"driverId,omitempty"`
	Date        time.Time    `json:"date"`
	TotalHouses int          `json:"totalHouses" validate:"gte=0"`
	CreatorID   string       `json:"creatorId" validate:"required"`
	Houses      []HouseInput `json:"houses,omitempty" validate:"dive"`
}

// HouseInput is a house attached at creation time.
type HouseInput struct {
	Address string  `json:"address" validate:"required"`
	Lat     float64 `json:"lat" validate:"latitude"`
	Lng     float64 `json:"lng" validate:"longitude"`
	Status  string  `json:"status,omitempty"`
	Order   int     `json:"order" validate:"gte=0"`
	Notes   string  `json:"notes,omitempty"`
}

type AddHouseInput struct {
	RouteID string `json:"routeId" validate:"required"`
	TeamID  string `json:"teamId,omitempty"`
	ActorID string `json:"-" validate:"required"`
	HouseInput
}

type RouteStatusInput struct {
	RouteID string `validate:"required"`
	Status  string `validate:"required"`
	ActorID string `validate:"required"`
	Notes   string
	// ExpectVersion, when non-zero, must match the stored version or the update fails with ErrConflict.
	ExpectVersion int64
}

type HouseStatusInput struct {
	HouseID string `validate:"required"`
	Status  string `validate:"required"`
	ActorID string `validate:"required"`
	Notes   *string
}

func (e *Engine) check(v any) error {
	if err := e.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", model.ErrInvalidInput, err.Error())
	}
	return nil
}

func (e *Engine) now() time.Time { return e.Now().UTC().Truncate(time.Millisecond) }

// CreateRoute stores a pending route with zero completed houses and logs "created".
func (e *Engine) CreateRoute(ctx context.Context, in CreateRouteInput) (string, error) {
	if err := e.check(in); err != nil {
		return "", err
	}
	if in.Date.IsZero() {
		return "", model.Invalidf("date is required")
	}
	now := e.now()
	total := in.TotalHouses
	if len(in.Houses) > total {
		total = len(in.Houses)
	}
	r := model.Route{
		ID:          e.NewID(),
		Name:        strings.TrimSpace(in.Name),
		TeamID:      in.TeamID,
		DriverID:    in.DriverID,
		Status:      model.RoutePending,
		Date:        model.DayOf(in.Date),
		TotalHouses: total,
		CreatedBy:   in.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	var houses []model.House
	err := e.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertRoute(ctx, r); err != nil {
			return err
		}
		if err := recordRoute(ctx, tx, e.NewID(), r, in.CreatorID, model.ActionCreated, "", now); err != nil {
			return err
		}
		for _, hi := range in.Houses {
			h, err := e.newHouse(r.ID, r.TeamID, hi, now)
			if err != nil {
				return err
			}
			if err := tx.InsertHouse(ctx, h); err != nil {
				return err
			}
			if h.Status.Terminal() {
				if _, err := tx.IncrementCompletedHouses(ctx, r.ID, now); err != nil {
					return err
				}
			}
			houses = append(houses, h)
		}
		return nil
	})
	if err != nil {
		e.fail("create_route", err)
		return "", err
	}
	metrics.RouteTransitions.WithLabelValues(string(model.ActionCreated)).Inc()
	e.Log.WithFields(logrus.Fields{"route_id": r.ID, "team_id": r.TeamID, "houses": len(houses)}).Info("route created")
	e.publish(ctx, model.RouteChange{RouteID: r.ID, Kind: model.ChangeRouteCreated, Action: model.ActionCreated, Route: &r, At: now})
	return r.ID, nil
}

// AddHouse attaches a house to a route and increments the route's total.
func (e *Engine) AddHouse(ctx context.Context, in AddHouseInput) (string, error) {
	if err := e.check(in); err != nil {
		return "", err
	}
	now := e.now()
	var h model.House
	err := e.Store.WithTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetRoute(ctx, in.RouteID)
		if err != nil {
			return err
		}
		team := in.TeamID
		if team == "" {
			team = r.TeamID
		}
		h, err = e.newHouse(r.ID, team, in.HouseInput, now)
		if err != nil {
			return err
		}
		if err := tx.InsertHouse(ctx, h); err != nil {
			return err
		}
		if err := tx.IncrementTotalHouses(ctx, r.ID, now); err != nil {
			return err
		}
		if h.Status.Terminal() {
			if _, err := tx.IncrementCompletedHouses(ctx, r.ID, now); err != nil {
				return err
			}
		}
		return recordHouse(ctx, tx, e.NewID(), h, in.ActorID, model.ActionHouseAdded, h.Notes, now)
	})
	if err != nil {
		e.fail("add_house", err)
		return "", err
	}
	metrics.HouseTransitions.WithLabelValues(string(model.ActionHouseAdded)).Inc()
	e.Log.WithFields(logrus.Fields{"route_id": h.RouteID, "house_id": h.ID, "order": h.Order}).Info("house added")
	e.publish(ctx, model.RouteChange{RouteID: h.RouteID, Kind: model.ChangeHouseAdded, Action: model.ActionHouseAdded, HouseID: h.ID, House: &h, At: now})
	return h.ID, nil
}

func (e *Engine) newHouse(routeID, teamID string, in HouseInput, now time.Time) (model.House, error) {
	if err := e.check(in); err != nil {
		return model.House{}, err
	}
	status := model.HousePending
	if strings.TrimSpace(in.Status) != "" {
		s, err := model.ParseHouseStatus(in.Status)
		if err != nil {
			return model.House{}, err
		}
		status = s
	}
	return model.House{
		ID:        e.NewID(),
		RouteID:   routeID,
		TeamID:    teamID,
		Address:   strings.TrimSpace(in.Address),
		Latitude:  in.Lat,
		Longitude: in.Lng,
		Status:    status,
		Notes:     in.Notes,
		Order:     in.Order,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateRouteStatus applies a requested route status and logs one history entry.
func (e *Engine) UpdateRouteStatus(ctx context.Context, in RouteStatusInput) (model.Route, error) {
	if err := e.check(in); err != nil {
		return model.Route{}, err
	}
	next, err := model.ParseRouteStatus(in.Status)
	if err != nil {
		return model.Route{}, err
	}
	now := e.now()
	var (
		out    model.Route
		action model.HistoryAction
	)
	err = e.Store.WithTx(ctx, func(tx store.Tx) error {
		r, err := tx.GetRoute(ctx, in.RouteID)
		if err != nil {
			return err
		}
		if in.ExpectVersion != 0 && in.ExpectVersion != r.Version {
			return fmt.Errorf("%w: route %s is at version %d", model.ErrConflict, r.ID, r.Version)
		}
		var updated model.Route
		updated, action = applyRouteStatus(r, next, now)
		updated.UpdatedAt = now
		if out, err = tx.UpdateRoute(ctx, updated); err != nil {
			return err
		}
		return recordRoute(ctx, tx, e.NewID(), out, in.ActorID, action, in.Notes, now)
	})
	if err != nil {
		e.fail("update_route_status", err)
		return model.Route{}, err
	}
	metrics.RouteTransitions.WithLabelValues(string(action)).Inc()
	e.Log.WithFields(logrus.Fields{"route_id": out.ID, "status": out.Status, "action": action, "actor": in.ActorID}).Info("route status applied")
	e.publish(ctx, model.RouteChange{RouteID: out.ID, Kind: model.ChangeRouteStatus, Action: action, Route: &out, At: now})
	return out, nil
}

// UpdateHouseStatus applies a house status, counting the house toward the route the first
// time it reaches collect or skip, and logs one history entry.
func (e *Engine) UpdateHouseStatus(ctx context.Context, in HouseStatusInput) (model.House, error) {
	if err := e.check(in); err != nil {
		return model.House{}, err
	}
	next, err := model.ParseHouseStatus(in.Status)
	if err != nil {
		return model.House{}, err
	}
	now := e.now()
	var (
		h       model.House
		action  model.HistoryAction
		started *model.Route
	)
	err = e.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if h, err = tx.GetHouse(ctx, in.HouseID); err != nil {
			return err
		}
		if e.AutoStart {
			if started, err = e.autoStart(ctx, tx, h, in.ActorID, now); err != nil {
				return err
			}
		}
		var counts bool
		counts, action = applyHouseStatus(h.Status, next)
		h.Status = next
		if in.Notes != nil {
			h.Notes = *in.Notes
		}
		h.UpdatedAt = now
		if err := tx.UpdateHouse(ctx, h); err != nil {
			return err
		}
		if counts {
			if _, err := tx.IncrementCompletedHouses(ctx, h.RouteID, now); err != nil {
				return err
			}
		}
		notes := ""
		if in.Notes != nil {
			notes = *in.Notes
		}
		return recordHouse(ctx, tx, e.NewID(), h, in.ActorID, action, notes, now)
	})
	if err != nil {
		e.fail("update_house_status", err)
		return model.House{}, err
	}
	metrics.HouseTransitions.WithLabelValues(string(action)).Inc()
	e.Log.WithFields(logrus.Fields{"route_id": h.RouteID, "house_id": h.ID, "status": h.Status, "action": action}).Info("house status applied")
	if started != nil {
		metrics.RouteTransitions.WithLabelValues(string(model.ActionStarted)).Inc()
		e.publish(ctx, model.RouteChange{RouteID: started.ID, Kind: model.ChangeRouteStatus, Action: model.ActionStarted, Route: started, At: now})
	}
	change := model.RouteChange{RouteID: h.RouteID, Kind: model.ChangeHouseStatus, Action: action, HouseID: h.ID, House: &h, At: now}
	if r, err := e.Store.GetRoute(ctx, h.RouteID); err == nil {
		change.Route = &r
	}
	e.publish(ctx, change)
	return h, nil
}

func (e *Engine) autoStart(ctx context.Context, tx store.Tx, h model.House, actor string, now time.Time) (*model.Route, error) {
	r, err := tx.GetRoute(ctx, h.RouteID)
	if err != nil {
		return nil, err
	}
	if r.Status != model.RoutePending {
		return nil, nil
	}
	next, action := applyRouteStatus(r, model.RouteInProgress, now)
	next.UpdatedAt = now
	out, err := tx.UpdateRoute(ctx, next)
	if err != nil {
		return nil, err
	}
	if err := recordRoute(ctx, tx, e.NewID(), out, actor, action, "", now); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRoute returns the route with its houses in traversal order.
func (e *Engine) GetRoute(ctx context.Context, routeID string) (model.RouteDetail, error) {
	r, err := e.Store.GetRoute(ctx, routeID)
	if err != nil {
		return model.RouteDetail{}, err
	}
	houses, err := e.Store.ListHouses(ctx, routeID)
	if err != nil {
		return model.RouteDetail{}, err
	}
	return model.RouteDetail{Route: r, Houses: houses}, nil
}

func (e *Engine) publish(ctx context.Context, c model.RouteChange) {
	if e.Feed != nil {
		e.Feed.Publish(c.RouteID, c)
	}
	for _, n := range e.Notifiers {
		n.RouteChanged(ctx, c)
	}
}

func (e *Engine) fail(op string, err error) {
	metrics.TxFailures.WithLabelValues(op).Inc()
	e.Log.WithError(err).WithField("op", op).Warn("lifecycle write rolled back")
}
