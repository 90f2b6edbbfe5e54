// Package server exposes the container operation set over HTTP. The
// router is gin-based and embeddable: Handler() returns a plain
// http.Handler that can be mounted in any mux, NewServer runs it
// standalone. All state lives in the manager; handlers translate between
// JSON and manager calls and map the error taxonomy onto status codes.
package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robertjbass/spindb-sub005/internal/manager"
	"github.com/robertjbass/spindb-sub005/internal/metrics"
	"github.com/robertjbass/spindb-sub005/internal/registry"
)

// maxBodyBytes bounds request bodies; container specs and merge patches
// are small documents.
const maxBodyBytes = 1 << 20

// Router provides embeddable HTTP handlers for managing containers.
// Endpoints, under an optional basePath:
//
//	GET    /healthz
//	GET    /metrics
//	GET    /stats
//	GET    /containers
//	POST   /containers
//	GET    /containers/:name
//	PATCH  /containers/:name
//	DELETE /containers/:name?force=true
//	POST   /containers/:name/start
//	POST   /containers/:name/stop
//	POST   /containers/:name/clone
//	POST   /containers/:name/rename
//	GET    /containers/:name/size
//	GET    /sizes
//	POST   /containers/:name/databases
//	DELETE /containers/:name/databases/:db
//	POST   /containers/:name/databases/sync
//	GET    /binaries
//	POST   /binaries
//	DELETE /binaries/:engine/:version
type Router struct {
	mgr      *manager.Manager
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/api" results in /api/containers, /api/healthz.
func NewRouter(mgr *manager.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)

	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/stats", r.handleStats)

	group.GET("/containers", r.handleList)
	group.POST("/containers", r.handleCreate)
	group.GET("/containers/:name", r.handleInfo)
	group.PATCH("/containers/:name", r.handlePatch)
	group.DELETE("/containers/:name", r.handleDelete)
	group.POST("/containers/:name/start", r.handleStart)
	group.POST("/containers/:name/stop", r.handleStop)
	group.POST("/containers/:name/clone", r.handleClone)
	group.POST("/containers/:name/rename", r.handleRename)
	group.GET("/containers/:name/size", r.handleSize)
	group.GET("/sizes", r.handleSizes)
	group.POST("/containers/:name/databases", r.handleAddDatabase)
	group.DELETE("/containers/:name/databases/:db", r.handleRemoveDatabase)
	group.POST("/containers/:name/databases/sync", r.handleSyncDatabases)

	group.GET("/binaries", r.handleListBinaries)
	group.POST("/binaries", r.handleInstallBinary)
	group.DELETE("/binaries/:engine/:version", r.handleRemoveBinary)

	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The caller owns shutdown via the returned http.Server.
func NewServer(addr, basePath string, mgr *manager.Manager) (*http.Server, error) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type createReq struct {
	Name     string `json:"name"`
	Engine   string `json:"engine"`
	Version  string `json:"version"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Start    bool   `json:"start"`
}

type cloneReq struct {
	Target string `json:"target"`
	Port   int    `json:"port"`
}

type renameReq struct {
	Target string `json:"target"`
}

type databaseReq struct {
	Database string `json:"database"`
}

type binaryReq struct {
	Engine  string `json:"engine"`
	Version string `json:"version"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStats(c *gin.Context) {
	s := r.mgr.Sampler()
	if !s.Enabled() {
		writeJSON(c, http.StatusOK, gin.H{"enabled": false})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"enabled": true, "samples": s.All()})
}

func (r *Router) handleList(c *gin.Context) {
	infos, err := r.mgr.List()
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, infos)
}

func (r *Router) handleCreate(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" || req.Engine == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name and engine required"})
		return
	}
	rec, err := r.mgr.Create(c.Request.Context(), manager.CreateOptions{
		Name:     req.Name,
		Engine:   req.Engine,
		Version:  req.Version,
		Port:     req.Port,
		Database: req.Database,
		Start:    req.Start,
	})
	if err != nil {
		// With start=true the container can exist even though starting
		// it failed; clients see it via GET /containers.
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleInfo(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	info, err := r.mgr.Info(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handlePatch(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	patch, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}
	rec, err := r.mgr.Registry().MergePatch(name, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleDelete(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	if err := r.mgr.Delete(c.Request.Context(), name, force); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	if err := r.mgr.Start(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	if err := r.mgr.Stop(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleClone(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	var req cloneReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Target == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "target required"})
		return
	}
	rec, err := r.mgr.Clone(c.Request.Context(), name, req.Target, req.Port)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleRename(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Target == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "target required"})
		return
	}
	rec, err := r.mgr.Rename(c.Request.Context(), name, req.Target)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleSize(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	sizes, err := r.mgr.Sizes(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"name": name, "size_bytes": sizes[name]})
}

func (r *Router) handleSizes(c *gin.Context) {
	sizes, err := r.mgr.Sizes(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sizes)
}

func (r *Router) handleAddDatabase(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	var req databaseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Database == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "database required"})
		return
	}
	rec, err := r.mgr.AddDatabase(name, req.Database)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, rec)
}

func (r *Router) handleRemoveDatabase(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	db := c.Param("db")
	if !registry.ValidName(db) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid database name"})
		return
	}
	rec, err := r.mgr.RemoveDatabase(name, db)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, rec)
}

func (r *Router) handleSyncDatabases(c *gin.Context) {
	name, ok := safeName(c)
	if !ok {
		return
	}
	dbs, err := r.mgr.SyncDatabases(c.Request.Context(), name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"databases": dbs})
}

func (r *Router) handleListBinaries(c *gin.Context) {
	installed, err := r.mgr.InstalledBinaries()
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, installed)
}

func (r *Router) handleInstallBinary(c *gin.Context) {
	var req binaryReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Engine == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "engine required"})
		return
	}
	version, dir, err := r.mgr.EnsureBinary(c.Request.Context(), req.Engine, req.Version)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"engine": req.Engine, "version": version, "dir": dir})
}

func (r *Router) handleRemoveBinary(c *gin.Context) {
	eng := c.Param("engine")
	version := c.Param("version")
	if !registry.ValidName(eng) || !registry.ValidName(version) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid engine or version"})
		return
	}
	if err := r.mgr.RemoveBinary(eng, version); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// safeName extracts and validates the :name path parameter. Validation
// here keeps raw path input away from the registry's filesystem layout.
func safeName(c *gin.Context) (string, bool) {
	name := c.Param("name")
	if !registry.ValidName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid container name: allowed [A-Za-z0-9._-], no '..'"})
		return "", false
	}
	return name, true
}
