package ws

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"simplemounts.ai/internal/lifecycle"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mounterr"
	"simplemounts.ai/internal/protocol"
	"simplemounts.ai/internal/sim/loop"
)

const (
	defaultNearby = 16.0
	maxNearby     = 128.0
)

func (s *Server) dispatch(ctx context.Context, ss *session, req protocol.ReqMsg) protocol.ResMsg {
	start := time.Now()
	res, err := s.run(ctx, ss, req)
	if err != nil {
		res = failure(req, codeOf(err), err.Error())
	}
	res.Type = protocol.TypeRes
	res.ProtocolVersion = protocol.Version
	res.ReqID = req.ReqID
	res.Op = req.Op
	res.OK = err == nil
	res.ServerTick = s.loop.Tick()
	s.logger.Debug("request",
		zap.String("player", ss.player), zap.String("op", req.Op), zap.String("code", res.Code),
		zap.Duration("took", time.Since(start)))
	return res
}

func (s *Server) run(ctx context.Context, ss *session, req protocol.ReqMsg) (protocol.ResMsg, error) {
	var res protocol.ResMsg
	one := func(info lifecycle.Info, err error) (protocol.ResMsg, error) {
		if err != nil {
			return res, err
		}
		v := mountView(info)
		res.Mount = &v
		return res, nil
	}

	switch req.Op {
	case protocol.OpClaim:
		return one(s.mgr.Claim(ctx, ss.player, req.EntityID, req.Name))
	case protocol.OpStoreCurrent:
		return one(s.mgr.StoreCurrent(ctx, ss.player))
	case protocol.OpSummon, protocol.OpStore, protocol.OpRelease, protocol.OpRename, protocol.OpInfo:
		ref, err := mount.ParseRef(req.Ref)
		if err != nil {
			return res, mounterr.Validation("ws."+req.Op, mounterr.CodeBadReference, "%v", err)
		}
		switch req.Op {
		case protocol.OpSummon:
			return one(s.mgr.Summon(ctx, ss.player, ref))
		case protocol.OpStore:
			return one(s.mgr.Store(ctx, ss.player, ref))
		case protocol.OpRelease:
			return one(s.mgr.Release(ctx, ss.player, ref))
		case protocol.OpRename:
			return one(s.mgr.Rename(ctx, ss.player, ref, req.Name))
		default:
			return one(s.mgr.GetInfo(ctx, ss.player, ref))
		}
	case protocol.OpList:
		infos, err := s.mgr.List(ctx, ss.player)
		if err != nil {
			return res, err
		}
		res.Mounts = mountViews(infos)
		return res, nil
	case protocol.OpCanClaim:
		kind, ok := mount.ParseKind(req.Kind)
		if !ok {
			return res, mounterr.Validation("ws.can_claim", mounterr.CodeUnsupportedKind, "unknown kind %q", req.Kind)
		}
		return res, s.mgr.CanClaimMore(ctx, ss.player, kind, ss.has)
	case protocol.OpMove:
		if req.To == nil {
			return res, errBadRequest
		}
		to := placementOf(*req.To)
		return res, s.onLoop(ctx, func() error { return s.host.Move(ss.player, to) })
	case protocol.OpRide:
		return res, s.onLoop(ctx, func() error { return s.host.Ride(ss.player, req.EntityID) })
	case protocol.OpDismount:
		return res, s.onLoop(ctx, func() error { return s.host.Dismount(ss.player) })
	case protocol.OpNearby:
		radius := req.Radius
		if radius <= 0 {
			radius = defaultNearby
		}
		radius = min(radius, maxNearby)
		ents, err := loop.Do(ctx, s.loop, func() ([]protocol.EntityView, error) {
			p, ok := s.host.Player(ss.player)
			if !ok {
				return nil, errBadRequest
			}
			return entityViews(s.host.Nearby(p.Placement(), radius)), nil
		})
		if err != nil {
			return res, hostError{err}
		}
		res.Entities = ents
		return res, nil
	}
	return res, errUnknownOp
}

var (
	errBadRequest = errors.New("bad request")
	errUnknownOp  = errors.New("unknown op")
)

// hostError marks failures reported by the host world for a player control.
type hostError struct{ err error }

func (e hostError) Error() string { return e.err.Error() }
func (e hostError) Unwrap() error { return e.err }

func (s *Server) onLoop(ctx context.Context, fn func() error) error {
	if err := s.loop.Call(ctx, fn); err != nil {
		return hostError{err}
	}
	return nil
}

// codeOf maps err to the RES code. Lifecycle codes pass through.
func codeOf(err error) string {
	if mounterr.KindOf(err) != "" {
		return string(mounterr.CodeOf(err))
	}
	var he hostError
	switch {
	case errors.Is(err, errUnknownOp):
		return protocol.ErrUnknownOp
	case errors.Is(err, loop.ErrStopped):
		return string(mounterr.CodeShuttingDown)
	case errors.As(err, &he), errors.Is(err, errBadRequest):
		return protocol.ErrBadRequest
	}
	return protocol.ErrInternal
}

func failure(req protocol.ReqMsg, code, msg string) protocol.ResMsg {
	return protocol.ResMsg{
		Type:            protocol.TypeRes,
		ProtocolVersion: protocol.Version,
		ReqID:           req.ReqID,
		Op:              req.Op,
		Code:            code,
		Message:         msg,
	}
}
