package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	admissiondomain "github.com/clipbrief/clipbrief/internal/admission/domain"
	"github.com/clipbrief/clipbrief/internal/creation"
	summarydomain "github.com/clipbrief/clipbrief/internal/summary/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CreateSummaryRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

type CreateSummaryResponse struct {
	Summary *summarydomain.Summary   `json:"summary"`
	Usage   admissiondomain.Decision `json:"usage"`
}

type quotaExceededResponse struct {
	Error errorPayload             `json:"error"`
	Quota admissiondomain.Decision `json:"quota"`
}

func (s *Server) CreateSummary(c *gin.Context) {
	var req CreateSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	videoID, ok := extractVideoID(req.URL)
	if !ok {
		AbortWithError(c, newValidationError("url", "invalid_url", "a valid YouTube video URL is required"))
		return
	}

	result, err := s.orchestrator.CreateSummary(c.Request.Context(), creation.CreateRequest{
		Identity: requesterIdentity(c),
		VideoID:  videoID,
		VideoURL: strings.TrimSpace(req.URL),
		Title:    strings.TrimSpace(req.Title),
	})
	if err != nil {
		if errors.Is(err, admissiondomain.ErrAdmissionDenied) {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusForbidden, quotaExceededResponse{
				Error: errorPayload{
					Type:    "quota_exceeded",
					Message: result.Decision.Reason,
				},
				Quota: result.Decision,
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	// The quota unit is consumed at this point. A summarizer failure marks
	// the summary failed without refunding it.
	summary := result.Summary
	out, err := s.summarizer.Summarize(c.Request.Context(), summary.VideoURL)
	if err != nil {
		s.obsMetrics.RecordSummarizerFailure(c.Request.Context())
		s.log.Error("summarizer call failed",
			zap.String("summary_id", summary.ID.String()),
			zap.Error(err),
		)
		if updateErr := s.summaries.UpdateStatus(c.Request.Context(), summary.ID, summarydomain.StatusFailed, ""); updateErr != nil {
			s.log.Error("mark summary failed", zap.String("summary_id", summary.ID.String()), zap.Error(updateErr))
		}
		summary.Status = summarydomain.StatusFailed
		c.JSON(http.StatusBadGateway, errorResponse{Error: errorPayload{
			Type:    "summarizer_error",
			Message: "video summarization failed, please try again later",
		}})
		return
	}

	if err := s.summaries.UpdateStatus(c.Request.Context(), summary.ID, summarydomain.StatusCompleted, out.Summary); err != nil {
		AbortWithError(c, err)
		return
	}
	summary.Status = summarydomain.StatusCompleted
	summary.Content = out.Summary
	if summary.Title == "" {
		summary.Title = out.VideoTitle
	}

	c.JSON(http.StatusCreated, CreateSummaryResponse{
		Summary: summary,
		Usage:   result.Decision,
	})
}

func (s *Server) ListSummaries(c *gin.Context) {
	pageSize := 20
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size must be between 1 and 100"))
			return
		}
		pageSize = parsed
	}

	resp, err := s.summaries.List(c.Request.Context(), summarydomain.ListRequest{
		UserID:    requesterIdentity(c).UserID,
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetSummary(c *gin.Context) {
	summary, err := s.ownedSummary(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// DeleteSummary removes the summary row. The matching ledger row stays, so
// deletion never frees quota.
func (s *Server) DeleteSummary(c *gin.Context) {
	summary, err := s.ownedSummary(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.summaries.Delete(c.Request.Context(), summary.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) ownedSummary(c *gin.Context) (*summarydomain.Summary, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		return nil, summarydomain.ErrNotFound
	}

	summary, err := s.summaries.GetByID(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if summary.UserID != requesterIdentity(c).UserID {
		// Hide other users' summaries entirely.
		return nil, summarydomain.ErrNotFound
	}
	return summary, nil
}
