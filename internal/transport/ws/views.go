package ws

import (
	"simplemounts.ai/internal/lifecycle"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/kinds"
	"simplemounts.ai/internal/protocol"
	"simplemounts.ai/internal/sim/world"
)

func placementView(p mount.Placement) protocol.Placement {
	return protocol.Placement{World: p.World, Pos: [3]float64{p.Pos.X, p.Pos.Y, p.Pos.Z}}
}

func placementOf(p protocol.Placement) mount.Placement {
	return mount.Placement{World: p.World, Pos: mount.Vec3{X: p.Pos[0], Y: p.Pos[1], Z: p.Pos[2]}}
}

func mountView(info lifecycle.Info) protocol.MountView {
	v := protocol.MountView{
		RecordID:     info.RecordID,
		Name:         info.Name,
		Kind:         string(info.Kind),
		Active:       info.Active,
		LiveID:       info.LiveID,
		CreatedAt:    info.CreatedAt.UnixMilli(),
		LastAccessed: info.LastAccessed.UnixMilli(),
		Attributes:   info.Attributes,
	}
	if info.Placement != nil {
		p := placementView(*info.Placement)
		v.Placement = &p
	}
	for _, s := range info.Inventory {
		v.Inventory = append(v.Inventory, protocol.SlotView{Slot: s.Slot, Description: s.Description})
	}
	return v
}

func mountViews(infos []lifecycle.Info) []protocol.MountView {
	out := make([]protocol.MountView, 0, len(infos))
	for _, info := range infos {
		out = append(out, mountView(info))
	}
	return out
}

func kindViews(specs []kinds.Spec) []protocol.KindView {
	out := make([]protocol.KindView, 0, len(specs))
	for _, s := range specs {
		out = append(out, protocol.KindView{Kind: string(s.Kind), Rideable: s.Rideable, InventorySize: s.InventorySize})
	}
	return out
}

func entityViews(ents []*world.Entity) []protocol.EntityView {
	out := make([]protocol.EntityView, 0, len(ents))
	for _, e := range ents {
		out = append(out, protocol.EntityView{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Placement: placementView(e.Placement()),
			Owner:     e.Tags[lifecycle.TagOwner],
			Tamed:     e.Tamer != "",
		})
	}
	return out
}

func noticeMsg(n lifecycle.Notice) protocol.NoticeMsg {
	return protocol.NoticeMsg{
		Type:            protocol.TypeNotice,
		ProtocolVersion: protocol.Version,
		Code:            n.Code,
		RecordID:        n.RecordID,
		LiveID:          n.LiveID,
		Name:            n.Name,
		Distance:        n.Distance,
		GraceMS:         n.Grace.Milliseconds(),
	}
}
