package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/beatbound/beatbound/backend/internal/auth"
	"github.com/beatbound/beatbound/backend/internal/cache"
	"github.com/beatbound/beatbound/backend/internal/challenges"
	"github.com/beatbound/beatbound/backend/internal/users"
	"github.com/beatbound/beatbound/backend/internal/voting"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "beatbound_user_id"
	roleContextKey   = "beatbound_role"

	leaderboardCacheSize = 256
)

var (
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingChallengeService = errors.New("challenge service dependency required")
	errMissingLedger           = errors.New("vote ledger dependency required")
	errMissingProjector        = errors.New("leaderboard projector dependency required")
	errMissingBroadcast        = errors.New("broadcast dispatcher dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens for API callers.
type TokenManager interface {
	IssueToken(ctx context.Context, claims auth.Claims) (string, int64, error)
	ValidateToken(token string) (auth.Claims, error)
}

// Dependencies wires the handler graph.
type Dependencies struct {
	TokenManager     TokenManager
	UsersService     *users.Service
	ChallengeService *challenges.Service
	Ledger           *voting.Ledger
	Projector        *voting.Projector
	Broadcast        BroadcastSource
	Logger           *zap.Logger

	FeedKeepAlive  time.Duration
	VoteRateWindow time.Duration
	VotesPerWindow int
	LeaderboardTTL time.Duration
	CORSOrigins    []string
}

// NewHTTPHandler builds the gin handler serving the BeatBound API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.ChallengeService == nil {
		return nil, errMissingChallengeService
	}
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Projector == nil {
		return nil, errMissingProjector
	}
	if deps.Broadcast == nil {
		return nil, errMissingBroadcast
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	keepAlive := deps.FeedKeepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	leaderboardTTL := deps.LeaderboardTTL
	if leaderboardTTL <= 0 {
		leaderboardTTL = 5 * time.Second
	}

	snapshots, err := cache.New[voting.Snapshot](leaderboardCacheSize, leaderboardTTL)
	if err != nil {
		return nil, err
	}

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:     deps.TokenManager,
		users:      deps.UsersService,
		challenges: deps.ChallengeService,
		ledger:     deps.Ledger,
		projector:  deps.Projector,
		broadcast:  deps.Broadcast,
		snapshots:  snapshots,
		keepAlive:  keepAlive,
		logger:     logger,
	}

	voteLimiter, err := newRateLimiter(deps.VoteRateWindow, deps.VotesPerWindow)
	if err != nil {
		return nil, err
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)
	router.GET("/challenges/:id", handler.handleGetChallenge)
	router.GET("/challenges/:id/leaderboard", handler.handleLeaderboard)
	router.GET("/challenges/:id/feed", handler.handleFeed)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/challenges", handler.handleCreateChallenge)
	protected.POST("/challenges/:id/phase", handler.handleAdvancePhase)
	protected.POST("/challenges/:id/submissions", handler.handleSubmitEntry)
	protected.POST("/submissions/:id/ready", handler.handleMarkReady)
	protected.POST("/submissions/:id/disqualify", handler.handleDisqualify)
	protected.POST("/submissions/:id/vote", voteLimiter.middleware(), handler.handleCastVote)
	protected.DELETE("/submissions/:id/vote", handler.handleRetractVote)

	return router, nil
}

type httpHandler struct {
	tokens     TokenManager
	users      *users.Service
	challenges *challenges.Service
	ledger     *voting.Ledger
	projector  *voting.Projector
	broadcast  BroadcastSource
	snapshots  *cache.TTLCache[voting.Snapshot]
	keepAlive  time.Duration
	logger     *zap.Logger
}

type registerPayload struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

type tokenPayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role, ok := users.ParseRole(request.Role)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		Email:       request.Email,
		DisplayName: request.DisplayName,
		Password:    request.Password,
		Role:        role,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		case errors.Is(err, users.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	h.issueToken(c, account, http.StatusCreated)
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrBadCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.issueToken(c, account, http.StatusOK)
}

func (h *httpHandler) issueToken(c *gin.Context, account users.User, status int) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), auth.Claims{
		UserID: account.ID,
		Role:   string(account.Role),
	})
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, tokenPayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      account.ID,
	})
}

type challengePayload struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	BeatURL string `json:"beat_url"`
	Phase   string `json:"phase"`
}

func challengeResponse(challenge challenges.Challenge) challengePayload {
	return challengePayload{
		ID:      challenge.ID,
		OwnerID: challenge.OwnerID,
		Title:   challenge.Title,
		BeatURL: challenge.BeatURL,
		Phase:   string(challenge.Phase),
	}
}

type createChallengePayload struct {
	Title   string `json:"title"`
	BeatURL string `json:"beat_url"`
}

func (h *httpHandler) handleCreateChallenge(c *gin.Context) {
	if c.GetString(roleContextKey) != string(users.RoleProducer) {
		c.JSON(http.StatusForbidden, gin.H{"error": "producer_role_required"})
		return
	}

	var request createChallengePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	challenge, err := h.challenges.Create(c.Request.Context(), c.GetString(userIDContextKey), request.Title, request.BeatURL)
	if err != nil {
		h.respondChallengeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, challengeResponse(challenge))
}

func (h *httpHandler) handleGetChallenge(c *gin.Context) {
	challenge, err := h.challenges.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondChallengeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeResponse(challenge))
}

type phasePayload struct {
	Phase string `json:"phase"`
}

func (h *httpHandler) handleAdvancePhase(c *gin.Context) {
	var request phasePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	phase, ok := challenges.ParsePhase(request.Phase)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_phase"})
		return
	}

	challenge, err := h.challenges.AdvancePhase(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), phase)
	if err != nil {
		h.respondChallengeError(c, err)
		return
	}
	c.JSON(http.StatusOK, challengeResponse(challenge))
}

type submitEntryPayload struct {
	VideoURL string `json:"video_url"`
}

type submissionPayload struct {
	ID           string `json:"id"`
	ChallengeID  string `json:"challenge_id"`
	ArtistID     string `json:"artist_id"`
	VideoURL     string `json:"video_url"`
	Status       string `json:"status"`
	Disqualified bool   `json:"disqualified"`
	VoteCount    int64  `json:"vote_count"`
}

func submissionResponse(submission challenges.Submission) submissionPayload {
	return submissionPayload{
		ID:           submission.ID,
		ChallengeID:  submission.ChallengeID,
		ArtistID:     submission.ArtistID,
		VideoURL:     submission.VideoURL,
		Status:       string(submission.Status),
		Disqualified: submission.Disqualified,
		VoteCount:    submission.VoteCount,
	}
}

func (h *httpHandler) handleSubmitEntry(c *gin.Context) {
	var request submitEntryPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	submission, err := h.challenges.SubmitEntry(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey), request.VideoURL)
	if err != nil {
		h.respondChallengeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, submissionResponse(submission))
}

func (h *httpHandler) handleMarkReady(c *gin.Context) {
	submission, err := h.challenges.MarkReady(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondChallengeError(c, err)
		return
	}
	c.JSON(http.StatusOK, submissionResponse(submission))
}

func (h *httpHandler) handleDisqualify(c *gin.Context) {
	submission, err := h.challenges.Disqualify(c.Request.Context(), c.Param("id"), c.GetString(userIDContextKey))
	if err != nil {
		h.respondChallengeError(c, err)
		return
	}
	c.JSON(http.StatusOK, submissionResponse(submission))
}

func (h *httpHandler) handleCastVote(c *gin.Context) {
	result, err := h.ledger.CastVote(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), c.ClientIP())
	if err != nil {
		h.respondVotingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"vote_id":    result.VoteID,
		"vote_count": result.VoteCount,
	})
}

func (h *httpHandler) handleRetractVote(c *gin.Context) {
	voteCount, err := h.ledger.RetractVote(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		h.respondVotingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vote_count": voteCount})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	challengeID := c.Param("id")
	if snapshot, ok := h.snapshots.Get(challengeID); ok {
		c.JSON(http.StatusOK, snapshot)
		return
	}

	snapshot, err := h.projector.Leaderboard(c.Request.Context(), challengeID)
	if err != nil {
		h.respondVotingError(c, err)
		return
	}
	h.snapshots.Set(challengeID, snapshot)
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) respondChallengeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, challenges.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, challenges.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner"})
	case errors.Is(err, challenges.ErrInvalidPhase):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_phase", "message": err.Error()})
	case errors.Is(err, challenges.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("challenge operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) respondVotingError(c *gin.Context, err error) {
	rejection, ok := voting.AsRejection(err)
	if !ok {
		h.logger.Error("voting operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	status := http.StatusConflict
	switch rejection.Kind {
	case voting.KindNotFound:
		status = http.StatusNotFound
	case voting.KindUnauthenticated:
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{
		"error":   string(rejection.Kind),
		"message": rejection.Message,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(roleContextKey, claims.Role)
	c.Next()
}
