package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nestwork/liveroom/internal/app"
	"github.com/nestwork/liveroom/internal/domain"
)

type Handler struct {
	Engine *app.Engine
}

func (h *Handler) addrParam(c *gin.Context) (domain.RoomAddress, bool) {
	addr, err := domain.ParseRoomAddress(c.Param("addr"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.RoomAddress{}, false
	}
	return addr, true
}

// fail maps engine errors onto HTTP statuses, keeping resolution
// timeouts and connection failures distinguishable for callers.
func fail(c *gin.Context, err error) {
	var clientErr *domain.ClientError
	var connErr *domain.ConnectionError
	switch {
	case errors.Is(err, domain.ErrMalformedAddress), errors.Is(err, domain.ErrMalformedDescriptor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrResolutionTimeout):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "kind": "resolution_timeout"})
	case errors.As(err, &connErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "kind": "connection_error"})
	case errors.Is(err, domain.ErrNotSupported):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyConnected), errors.Is(err, domain.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrSigningDeclined):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &clientErr):
		c.JSON(int(clientErr.Code), gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func descriptorJSON(d *domain.RoomDescriptor) gin.H {
	return gin.H{
		"address":       d.Address.String(),
		"owner":         d.OwnerPubkey,
		"title":         d.Title,
		"summary":       d.Summary,
		"status":        d.Status,
		"scheduled_at":  d.ScheduledAt,
		"streaming_url": d.StreamingURL,
		"recording_url": d.RecordingURL,
		"connectable":   d.Connectable(),
		"participants":  d.TotalParticipantsHint,
		"nsfw":          d.NSFW,
	}
}

func (h *Handler) ListRooms(c *gin.Context) {
	var out []gin.H
	for _, eng := range h.Engine.Rooms().List() {
		snap := eng.Snapshot()
		entry := gin.H{
			"address":   snap.Room.String(),
			"on_stage":  len(snap.OnStage),
			"listening": len(snap.Listening),
		}
		if snap.Descriptor != nil {
			entry["title"] = snap.Descriptor.Title
			entry["status"] = snap.Descriptor.Status
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *Handler) ResolveRoom(c *gin.Context) {
	var req struct {
		Address string   `json:"address" binding:"required"`
		Hints   []string `json:"hints"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, err := domain.ParseRoomAddress(req.Address)
	if err != nil {
		fail(c, err)
		return
	}
	d, err := h.Engine.Resolve(c.Request.Context(), addr, req.Hints)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, descriptorJSON(d))
}

func (h *Handler) OpenRoom(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	var req struct {
		Hints []string `json:"hints"`
	}
	_ = c.ShouldBindJSON(&req)
	eng, err := h.Engine.Open(c.Request.Context(), addr, req.Hints)
	if err != nil {
		fail(c, err)
		return
	}
	snap := eng.Snapshot()
	c.JSON(http.StatusOK, descriptorJSON(snap.Descriptor))
}

func participantJSON(p domain.Participant) gin.H {
	return gin.H{
		"pubkey":      p.Pubkey,
		"muted":       p.Muted,
		"volume":      p.Volume,
		"raised_hand": p.RaisedHand,
	}
}

func (h *Handler) Roster(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	eng, found := h.Engine.Rooms().Get(addr)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not opened"})
		return
	}
	snap := eng.Snapshot()
	onStage := make([]gin.H, 0, len(snap.OnStage))
	for _, p := range snap.OnStage {
		e := participantJSON(p)
		e["role"] = snap.Role(p.Pubkey)
		onStage = append(onStage, e)
	}
	listening := make([]gin.H, 0, len(snap.Listening))
	for _, p := range snap.Listening {
		listening = append(listening, participantJSON(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"on_stage":     onStage,
		"listening":    listening,
		"admins":       snap.Admins,
		"raised_hands": snap.RaisedHands,
		"recording":    snap.Recording,
		"total":        snap.TotalParticipants,
	})
}

func (h *Handler) SessionState(c *gin.Context) {
	state, stateErr := h.Engine.Session().State()
	out := gin.H{
		"state":       state.String(),
		"muted":       h.Engine.Session().IsMuted(),
		"raised_hand": h.Engine.Session().RaisedHand(),
		"recording":   h.Engine.Session().IsRecording(),
	}
	if target := h.Engine.Session().Target(); !target.IsZero() {
		out["room"] = target.String()
	}
	if stateErr != nil {
		out["error"] = stateErr.Error()
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) Connect(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
		Switch  bool   `json:"switch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr, err := domain.ParseRoomAddress(req.Address)
	if err != nil {
		fail(c, err)
		return
	}
	if req.Switch {
		err = h.Engine.Switch(c.Request.Context(), addr)
	} else {
		err = h.Engine.Join(c.Request.Context(), addr)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": addr.String()})
}

func (h *Handler) Leave(c *gin.Context) {
	h.Engine.Leave()
	c.Status(http.StatusNoContent)
}

func (h *Handler) Mute(c *gin.Context) {
	var req struct {
		Muted *bool `json:"muted" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Engine.Session().SetMuted(c.Request.Context(), *req.Muted); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

func (h *Handler) RaiseHand(c *gin.Context) {
	var req struct {
		Raised *bool `json:"raised" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.Engine.Session().SetRaisedHand(*req.Raised)
	c.JSON(http.StatusOK, gin.H{"raised_hand": *req.Raised})
}

func (h *Handler) GoLive(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	if err := h.Engine.GoLive(c.Request.Context(), addr); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.StatusLive})
}

func (h *Handler) EndRoom(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	if err := h.Engine.EndRoom(c.Request.Context(), addr); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": domain.StatusEnded})
}

func (h *Handler) UpdatePermissions(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	var req struct {
		Participant string `json:"participant" binding:"required"`
		CanPublish  *bool  `json:"can_publish"`
		IsAdmin     *bool  `json:"is_admin"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	var err error
	switch {
	case req.CanPublish != nil && *req.CanPublish:
		err = h.Engine.GrantStage(ctx, addr, req.Participant)
	case req.CanPublish != nil:
		err = h.Engine.RevokeStage(ctx, addr, req.Participant)
	case req.IsAdmin != nil && *req.IsAdmin:
		err = h.Engine.GrantAdmin(ctx, addr, req.Participant)
	case req.IsAdmin != nil:
		err = h.Engine.RevokeAdmin(ctx, addr, req.Participant)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "no permission change requested"})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) StartRecording(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	if err := h.Engine.StartRecording(c.Request.Context(), addr); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *Handler) StopRecording(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	if err := h.Engine.StopRecording(c.Request.Context(), addr, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) DownloadRecording(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	data, err := h.Engine.DownloadRecording(c.Request.Context(), addr, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *Handler) DeleteRecording(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	if err := h.Engine.DeleteRecording(c.Request.Context(), addr, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		Service   string   `json:"service" binding:"required"`
		Relays    []string `json:"relays"`
		HLSStream bool     `json:"hls_stream"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Engine.CreateRoom(c.Request.Context(), req.Service, req.Relays, req.HLSStream)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListRecordings(c *gin.Context) {
	addr, ok := h.addrParam(c)
	if !ok {
		return
	}
	recs, err := h.Engine.ListRecordings(c.Request.Context(), addr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recs})
}

func (h *Handler) Discover(c *gin.Context) {
	follows := strings.Split(c.Query("follows"), ",")
	if len(follows) == 1 && follows[0] == "" {
		follows = nil
	}
	rooms, err := h.Engine.Discover(c.Request.Context(), follows)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(rooms))
	for _, d := range rooms {
		out = append(out, descriptorJSON(d))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}
