package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/sealgauge/internal/ir"
	"github.com/roach88/sealgauge/internal/policy"
)

type submitRequest struct {
	Values  *ir.Fields `json:"values"`
	Handles *handleSet `json:"handles"`
}

// handleSet carries serialized ciphertexts, base64 in JSON.
type handleSet struct {
	Pressure    []byte `json:"pressure"`
	Temperature []byte `json:"temperature"`
	Flow        []byte `json:"flow"`
}

type recordResponse struct {
	RecordID ir.RecordID `json:"record_id"`
}

type requestResponse struct {
	RecordID  ir.RecordID   `json:"record_id"`
	RequestID ir.RequestID  `json:"request_id"`
	Kind      ir.RevealKind `json:"kind"`
}

type recordView struct {
	RecordID      ir.RecordID            `json:"record_id"`
	Stage         ir.Stage               `json:"stage"`
	CreatedAt     time.Time              `json:"created_at"`
	Revealed      bool                   `json:"revealed"`
	Fields        *ir.Fields             `json:"fields,omitempty"`
	ScoreComputed bool                   `json:"score_computed"`
	Score         *uint32                `json:"score,omitempty"`
	Requests      []ir.DecryptionRequest `json:"requests"`
	Events        []ir.Event             `json:"events"`
}

type scoreResponse struct {
	RecordID ir.RecordID `json:"record_id"`
	Revealed bool        `json:"revealed"`
	Score    *uint32     `json:"score,omitempty"`
}

type callbackRequest struct {
	RequestID ir.RequestID `json:"request_id" binding:"required"`
	Payload   []byte       `json:"payload" binding:"required"`
	Proof     []byte       `json:"proof" binding:"required"`
}

type jobView struct {
	RequestID     ir.RequestID  `json:"request_id"`
	Kind          ir.RevealKind `json:"kind"`
	HandlesDigest string        `json:"handles_digest"`
	Handles       [][]byte      `json:"handles"`
	EnqueuedAt    time.Time     `json:"enqueued_at"`
}

// principalContext attaches the caller identity to the request context.
func principalContext(c *gin.Context) context.Context {
	return policy.WithPrincipal(c.Request.Context(), c.GetHeader(PrincipalHeader))
}

func recordID(c *gin.Context) (ir.RecordID, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || n <= 0 {
		badRequest(c, "record id must be a positive integer", err)
		return 0, false
	}
	return ir.RecordID(n), true
}

func (s *Server) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed submit body", err)
		return
	}
	if (req.Values == nil) == (req.Handles == nil) {
		badRequest(c, "exactly one of values or handles is required", nil)
		return
	}

	ctx := principalContext(c)
	var (
		id  ir.RecordID
		err error
	)
	if req.Values != nil {
		id, err = s.engine.SubmitValues(ctx, *req.Values)
	} else {
		id, err = s.engine.Submit(ctx, req.Handles.Pressure, req.Handles.Temperature, req.Handles.Flow)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, recordResponse{RecordID: id})
}

func (s *Server) inspect(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	in, err := s.engine.Inspect(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	view := recordView{
		RecordID:      in.Record.ID,
		Stage:         in.Stage,
		CreatedAt:     in.Record.CreatedAt,
		Revealed:      in.Record.IsRevealed,
		ScoreComputed: in.Record.HasScore(),
		Score:         in.Record.ScoreValue,
		Requests:      in.Requests,
		Events:        in.Events,
	}
	if in.Record.IsRevealed {
		f := in.Record.Revealed
		view.Fields = &f
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) requestRawReveal(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	reqID, err := s.engine.RequestRawReveal(principalContext(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, requestResponse{RecordID: id, RequestID: reqID, Kind: ir.RevealRawFields})
}

func (s *Server) requestScoreReveal(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	reqID, err := s.engine.RequestScoreReveal(principalContext(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, requestResponse{RecordID: id, RequestID: reqID, Kind: ir.RevealScore})
}

func (s *Server) computeScore(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	if _, err := s.engine.ComputeScore(principalContext(c), id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, recordResponse{RecordID: id})
}

func (s *Server) readScore(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	v, revealed, err := s.engine.ReadScore(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	resp := scoreResponse{RecordID: id, Revealed: revealed}
	if revealed {
		resp.Score = &v
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) request(c *gin.Context) {
	req, err := s.engine.Request(c.Request.Context(), ir.RequestID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) invalidate(c *gin.Context) {
	req, err := s.engine.InvalidateRequest(principalContext(c), ir.RequestID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (s *Server) callback(c *gin.Context) {
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed callback body", err)
		return
	}

	err := s.engine.OracleCallback(principalContext(c), req.RequestID, req.Payload, req.Proof)
	if s.outbox != nil && settled(err) {
		s.outbox.Cancel(req.RequestID)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// settled reports whether a callback outcome leaves nothing to retry.
func settled(err error) bool {
	switch ir.CodeOf(err) {
	case ir.ErrCodeAlreadyConsumed, ir.ErrCodeUnknownRequest:
		return true
	}
	return err == nil
}

func (s *Server) jobs(c *gin.Context) {
	if s.outbox == nil {
		c.JSON(http.StatusOK, []jobView{})
		return
	}
	pending := s.outbox.Pending()
	out := make([]jobView, 0, len(pending))
	for _, j := range pending {
		out = append(out, jobView{
			RequestID:     j.ID,
			Kind:          j.Kind,
			HandlesDigest: j.HandlesDigest,
			Handles:       j.Handles,
			EnqueuedAt:    j.EnqueuedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}
