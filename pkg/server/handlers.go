package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaewoo-rain/webide/pkg/errs"
	"github.com/jaewoo-rain/webide/pkg/manager"
	"github.com/jaewoo-rain/webide/pkg/runner"
	"github.com/jaewoo-rain/webide/pkg/runtime"
	"github.com/jaewoo-rain/webide/pkg/workspace"
)

// treePayload is the client file tree as it crosses the wire.
type treePayload struct {
	Tree    *workspace.Node            `json:"tree"`
	FileMap map[string]workspace.Entry `json:"fileMap"`
	RunCode string                     `json:"run_code"`
}

func (p treePayload) tree() (*workspace.Tree, error) {
	if p.Tree == nil || p.FileMap == nil {
		return nil, errs.New(errs.KindBadRequest, "tree and fileMap are required")
	}
	return &workspace.Tree{Root: p.Tree, FileMap: p.FileMap}, nil
}

func (s *Server) me(c *gin.Context) {
	principal := s.principal(c)
	c.JSON(http.StatusOK, gin.H{
		"username": principal.Username,
		"role":     principal.Role,
	})
}

func (s *Server) provision(c *gin.Context) {
	principal := s.principal(c)

	var req struct {
		ProjectName string            `json:"projectName"`
		Image       string            `json:"image"`
		Cmd         []string          `json:"cmd"`
		Env         map[string]string `json:"env"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.replyError(c, errs.New(errs.KindBadRequest, "invalid request body"))
		return
	}

	inst, err := s.Manager.Provision(c.Request.Context(), principal, manager.ProvisionRequest{
		ProjectName: req.ProjectName,
		Image:       req.Image,
		Cmd:         req.Cmd,
		Env:         req.Env,
	})
	if err != nil {
		s.replyError(c, err)
		return
	}

	sid := manager.NewSessionID()
	urls, err := manager.BuildAccessURLs(inst, c.Request, sid)
	if err != nil {
		s.replyError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":               s.displayID(inst),
		"name":             inst.Name,
		"image":            inst.Image,
		"owner":            principal.Username,
		"role":             principal.Role,
		"limited_by_quota": !principal.Unlimited(),
		"projectName":      req.ProjectName,
		"vnc_url":          urls.Display,
		"ws_url":           urls.Terminal,
		"port":             inst.ExternalPort,
	})
}

func (s *Server) listMine(c *gin.Context) {
	principal := s.principal(c)
	records, err := s.Manager.List(c.Request.Context(), principal)
	if err != nil {
		s.replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *Server) accessURLs(c *gin.Context) {
	inst, err := s.Manager.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.replyError(c, err)
		return
	}

	urls, err := manager.BuildAccessURLs(inst, c.Request, manager.NewSessionID())
	if err != nil {
		s.replyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cid":     inst.ID,
		"ws_url":  urls.Terminal,
		"vnc_url": urls.Display,
	})
}

func (s *Server) teardown(c *gin.Context) {
	principal := s.principal(c)
	if err := s.Manager.Teardown(c.Request.Context(), principal, c.Param("id")); err != nil {
		s.replyError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) renameProject(c *gin.Context) {
	principal := s.principal(c)

	var req struct {
		ProjectName string `json:"project_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ProjectName == "" {
		s.replyError(c, errs.New(errs.KindBadRequest, "project_name is required"))
		return
	}

	inst, err := s.Manager.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.replyError(c, err)
		return
	}
	if err := s.Manager.Rename(c.Request.Context(), principal, inst.ID, req.ProjectName); err != nil {
		s.replyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "project name updated"})
}

func (s *Server) readFiles(c *gin.Context) {
	inst, err := s.Manager.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.replyError(c, err)
		return
	}

	tree, err := s.Materializer.ReadTree(c.Request.Context(), inst.ID, s.Config.Workspace)
	if err != nil {
		s.replyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tree":    tree.Root,
		"fileMap": tree.FileMap,
	})
}

func (s *Server) save(c *gin.Context) {
	var req struct {
		ContainerID string `json:"container_id"`
		treePayload
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.replyError(c, errs.New(errs.KindBadRequest, "invalid request body"))
		return
	}
	tree, err := req.tree()
	if err != nil {
		s.replyError(c, err)
		return
	}

	inst, err := s.Manager.Resolve(c.Request.Context(), req.ContainerID)
	if err != nil {
		s.replyError(c, err)
		return
	}

	policy := workspace.Preserve
	if s.Config.WorkspacePurge {
		policy = workspace.Purge
	}
	if _, err := s.Materializer.Materialize(c.Request.Context(), inst.ID, tree, req.RunCode, s.Config.Workspace, policy); err != nil {
		s.replyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "saved"})
}

func (s *Server) run(c *gin.Context) {
	var req struct {
		ContainerID string `json:"container_id"`
		SessionID   string `json:"session_id"`
		treePayload
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.replyError(c, errs.New(errs.KindBadRequest, "invalid request body"))
		return
	}
	tree, err := req.tree()
	if err != nil {
		s.replyError(c, err)
		return
	}

	inst, err := s.Manager.Resolve(c.Request.Context(), req.ContainerID)
	if err != nil {
		s.replyError(c, err)
		return
	}

	mode, err := s.Runner.Run(c.Request.Context(), runner.Request{
		InstanceID: inst.ID,
		SessionID:  req.SessionID,
		Tree:       tree,
		EntryID:    req.RunCode,
	})
	if err != nil {
		s.replyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

func (s *Server) renamePath(c *gin.Context) {
	var req struct {
		OldPath string `json:"old_path"`
		NewName string `json:"new_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.replyError(c, errs.New(errs.KindBadRequest, "invalid request body"))
		return
	}

	inst, err := s.Manager.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.replyError(c, err)
		return
	}

	newPath, err := s.Materializer.Rename(c.Request.Context(), inst.ID, s.Config.Workspace, req.OldPath, req.NewName)
	if err != nil {
		s.replyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "renamed", "new_path": newPath})
}

func (s *Server) deletePath(c *gin.Context) {
	var req struct {
		FilePath string `json:"file_path"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.replyError(c, errs.New(errs.KindBadRequest, "invalid request body"))
		return
	}

	inst, err := s.Manager.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.replyError(c, err)
		return
	}

	if err := s.Materializer.Delete(c.Request.Context(), inst.ID, s.Config.Workspace, req.FilePath); err != nil {
		s.replyError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// displayID shortens docker ids to the familiar 12 characters; pod names are
// already human-sized.
func (s *Server) displayID(inst *runtime.Instance) string {
	if s.Manager.Runtime.Mode() == "docker" && len(inst.ID) > 12 {
		return inst.ID[:12]
	}
	return inst.ID
}
