// Package httpapi wires the REST and WebSocket surface, grounded on
// app.NewServer's route table and CORS middleware, generalized from
// document CRUD to room membership, password administration, and image
// upload.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"collab-canvas/internal/canvas"
	"collab-canvas/internal/config"
	"collab-canvas/internal/logging"
	"collab-canvas/internal/ratelimit"
	"collab-canvas/internal/room"
	"collab-canvas/internal/session"
	"collab-canvas/internal/sweeper"
)

// Store is the subset of internal/store.Store the HTTP handlers need:
// upload directory management, plus the existence/load lookups that let
// room-name generation and the check endpoint see a persisted-but-unloaded
// snapshot, not just a live in-memory room.
type Store interface {
	UploadDir(name string) (string, error)
	Exists(name string) bool
	Load(name string) (*canvas.Room, bool, error)
}

const (
	ipConnectRate  = 5 // connection attempts/sec allowed per address
	ipConnectBurst = 10
)

// Server holds the dependencies every handler closes over.
type Server struct {
	registry  *room.Registry
	store     Store
	sweep     *sweeper.Sweeper
	cfg       *config.Config
	router    *mux.Router
	ipLimiter *ratelimit.IPLimiter
}

// NewServer builds the route table. The room manager is a *room.Registry
// and the document CRUD endpoints are replaced by room membership and
// password administration endpoints.
func NewServer(reg *room.Registry, store Store, sweep *sweeper.Sweeper, cfg *config.Config) *Server {
	s := &Server{
		registry:  reg,
		store:     store,
		sweep:     sweep,
		cfg:       cfg,
		ipLimiter: ratelimit.NewIPLimiter(ipConnectRate, ipConnectBurst),
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws/{roomName}", s.handleWebSocket)
	r.HandleFunc("/api/room/generate", s.handleGenerateName).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{roomName}/check", s.handleCheckRoom).Methods(http.MethodGet)
	r.HandleFunc("/api/room/{roomName}/password", s.handleSetPassword).Methods(http.MethodPost)
	r.HandleFunc("/api/upload/image", s.handleUploadImage).Methods(http.MethodPost)
	r.HandleFunc("/api/uploads/{roomName}/{filename}", s.handleServeUpload).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/sweep", s.handleManualSweep).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the fully wrapped router (routes plus CORS), suitable
// for http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

// CleanupIPLimiter periodically drops the per-IP connection limiter's
// tracked state so memory doesn't grow with addresses that never reconnect.
// Run as a background goroutine for the life of the process.
func (s *Server) CleanupIPLimiter(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ipLimiter.Cleanup()
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomName := vars["roomName"]
	if !canvas.ValidName(roomName) {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}

	clientIP := ratelimit.ClientIP(r)
	if !s.ipLimiter.Allow(clientIP) {
		logging.Room(roomName).Warn("connection attempt rate limited", zap.String("ip", clientIP))
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	userName := r.URL.Query().Get("userName")
	if userName == "" {
		userName = "Anonymous"
	}
	password := r.URL.Query().Get("password")

	actor, err := s.registry.GetOrCreate(roomName)
	if err != nil {
		logging.Room(roomName).Warn("could not open room for websocket", zap.Error(err))
		http.Error(w, "room unavailable", http.StatusBadGateway)
		return
	}

	if err := session.Serve(w, r, actor, roomName, userName, password); err != nil {
		logging.Room(roomName).Info("session ended", zap.Error(err))
	}
}

type generateNameResponse struct {
	Name string `json:"name"`
}

// handleGenerateName returns a fresh, unused room name (GET
// /api/room/generate), trying a handful of random candidates before
// giving up — collisions are vanishingly unlikely but not impossible. A
// candidate is rejected if it names either a live room or one with a
// snapshot already on disk but not currently loaded.
func (s *Server) handleGenerateName(w http.ResponseWriter, r *http.Request) {
	for i := 0; i < 10; i++ {
		candidate := randomRoomName()
		if !s.registry.IsLive(candidate) && !s.store.Exists(candidate) {
			writeJSON(w, http.StatusOK, generateNameResponse{Name: candidate})
			return
		}
	}
	http.Error(w, "could not allocate a room name", http.StatusInternalServerError)
}

var roomNameAdjectives = []string{
	"blue", "red", "green", "gold", "silver", "quiet", "swift", "bold",
	"calm", "bright", "lucky", "misty", "amber", "coral", "violet",
	"crimson", "azure", "dusky", "sunny", "shady",
}

var roomNameAnimals = []string{
	"fox", "wolf", "owl", "hawk", "lynx", "otter", "heron", "crane",
	"panda", "tiger", "falcon", "marten", "badger", "raven", "moose",
	"gecko", "ibex", "koala", "viper", "sparrow",
}

// randomRoomName produces a dash-joined word-triple name (e.g. "blue-fox-12"),
// drawing its words from crypto/rand the same way upload filenames and
// session ids draw their randomness elsewhere in this package.
func randomRoomName() string {
	adjective := roomNameAdjectives[randIndex(len(roomNameAdjectives))]
	animal := roomNameAnimals[randIndex(len(roomNameAnimals))]
	return fmt.Sprintf("%s-%s-%d", adjective, animal, randIndex(100))
}

func randIndex(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(i.Int64())
}

type checkRoomResponse struct {
	Exists           bool `json:"exists"`
	RequiresPassword bool `json:"requiresPassword"`
}

// handleCheckRoom reports whether a room name is already in use and
// whether it's password protected, without joining it — used by the
// client to decide whether to prompt for a password before opening the
// WebSocket. A room with a snapshot on disk still "exists" even while
// idle-unloaded, so a non-live room falls back to the on-disk snapshot
// before reporting not-found.
func (s *Server) handleCheckRoom(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["roomName"]
	if !canvas.ValidName(roomName) {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}

	if actor, live := s.registry.Lookup(roomName); live {
		reply := make(chan room.Result, 1)
		actor.Send(room.Command{Kind: room.KindSnapshot, Reply: reply})
		res := <-reply
		protected := res.Snap != nil && (res.Snap.AdminPasswordHash != "" || res.Snap.ReadonlyPasswordHash != "")
		writeJSON(w, http.StatusOK, checkRoomResponse{Exists: true, RequiresPassword: protected})
		return
	}

	if !s.store.Exists(roomName) {
		writeJSON(w, http.StatusOK, checkRoomResponse{Exists: false})
		return
	}

	saved, found, err := s.store.Load(roomName)
	if err != nil || !found {
		writeJSON(w, http.StatusOK, checkRoomResponse{Exists: false})
		return
	}
	writeJSON(w, http.StatusOK, checkRoomResponse{
		Exists:           true,
		RequiresPassword: saved.AdminPasswordHash != "" || saved.ReadonlyPasswordHash != "",
	})
}

type setPasswordRequest struct {
	CurrentPassword  string `json:"currentPassword"`
	AdminPassword    string `json:"adminPassword"`
	ReadonlyPassword string `json:"readonlyPassword"`
}

// handleSetPassword changes a room's admin/readonly passwords out of
// band from the WebSocket connection, authenticating the caller with the
// room's current admin password first.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["roomName"]
	if !canvas.ValidName(roomName) {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}

	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	actor, err := s.registry.GetOrCreate(roomName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	joinReply := make(chan room.Result, 1)
	probe := newAdminProbe()
	actor.Send(room.Command{Kind: room.KindJoin, From: probe, Password: req.CurrentPassword, Reply: joinReply})
	joinRes := <-joinReply
	if joinRes.Err != nil {
		http.Error(w, joinRes.Err.Error(), http.StatusForbidden)
		return
	}
	leaveReply := make(chan room.Result, 1)
	actor.Send(room.Command{Kind: room.KindLeave, From: probe, Reply: leaveReply})
	<-leaveReply

	if joinRes.Init.UserRole != room.RoleAdmin {
		http.Error(w, room.ErrForbidden.Error(), http.StatusForbidden)
		return
	}

	adminHash, err := room.HashPassword(req.AdminPassword)
	if err != nil {
		http.Error(w, "could not hash password", http.StatusInternalServerError)
		return
	}
	readonlyHash, err := room.HashPassword(req.ReadonlyPassword)
	if err != nil {
		http.Error(w, "could not hash password", http.StatusInternalServerError)
		return
	}

	setReply := make(chan room.Result, 1)
	actor.Send(room.Command{
		Kind: room.KindSetPasswords, From: probe,
		AdminPassword: adminHash, ReadonlyPassword: readonlyHash,
		Reply: setReply,
	})
	<-setReply
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadImage accepts a multipart image upload and stores it under
// the target room's upload directory, capped at MaxImageBytes.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	roomName := r.URL.Query().Get("roomName")
	if !canvas.ValidName(roomName) {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxImageBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxImageBytes); err != nil {
		http.Error(w, "image too large or malformed", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "missing image field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		http.Error(w, "unsupported image type", http.StatusUnsupportedMediaType)
		return
	}

	// Extension and declared Content-Type are both client-supplied and
	// easy to spoof (an SVG renamed to .png, say) — only the magic bytes
	// of the data itself are trustworthy.
	sniff := make([]byte, 512)
	n, err := io.ReadFull(file, sniff)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		http.Error(w, "could not read image", http.StatusBadRequest)
		return
	}
	detected := http.DetectContentType(sniff[:n])
	if detected != "image/jpeg" && detected != "image/png" {
		http.Error(w, "image content does not match a supported image type", http.StatusUnsupportedMediaType)
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		http.Error(w, "could not read image", http.StatusInternalServerError)
		return
	}

	dir, err := s.store.UploadDir(roomName)
	if err != nil {
		http.Error(w, "could not prepare upload directory", http.StatusInternalServerError)
		return
	}

	filename := uuid.NewString() + ext
	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		http.Error(w, "could not store image", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		http.Error(w, "could not store image", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, uploadImageResponse{
		Filename:     filename,
		OriginalName: header.Filename,
	})
}

type uploadImageResponse struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
}

func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomName, filename := vars["roomName"], vars["filename"]
	if !canvas.ValidName(roomName) || strings.Contains(filename, "/") || strings.Contains(filename, "..") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	dir, err := s.store.UploadDir(roomName)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, filepath.Join(dir, filename))
}

type sweepResponse struct {
	RoomsDeleted int `json:"roomsDeleted"`
}

// handleManualSweep triggers an out-of-cycle retention sweep, for
// operational use (e.g. after lowering the retention horizon).
func (s *Server) handleManualSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.sweep.Sweep(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{RoomsDeleted: n})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// corsMiddleware is an outer CORS wrapper reflecting the request Origin
// so preflight checks succeed for any client.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		w.Header().Set("Access-Control-Max-Age", "600")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminProbe is a throwaway room.Attachment used to authenticate an HTTP
// request against a room's password without a live WebSocket connection.
type adminProbe struct {
	id   string
	role room.Role
}

func newAdminProbe() *adminProbe { return &adminProbe{id: uuid.NewString()} }

func (p *adminProbe) SessionID() string    { return p.id }
func (p *adminProbe) UserID() string       { return "http-admin-probe" }
func (p *adminProbe) UserName() string     { return "" }
func (p *adminProbe) Role() room.Role      { return p.role }
func (p *adminProbe) SetRole(r room.Role)  { p.role = r }
func (p *adminProbe) SetUserName(string)   {}
func (p *adminProbe) Deliver(frame []byte) {}
