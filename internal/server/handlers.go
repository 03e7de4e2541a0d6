package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/book-expert/fileconv-service/internal/flow"
	"github.com/book-expert/fileconv-service/internal/panel"
)

const sessionKey = "session"

var panelTitles = map[string]string{
	panel.Compressor: "Image Compressor",
	panel.ImageToPDF: "Image to PDF",
	panel.PDFToImage: "PDF to Image",
}

type panelView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Visible bool   `json:"visible"`
}

type pageView struct {
	Alerts      []string              `json:"alerts"`
	Panels      []panelView           `json:"panels"`
	Compression flow.CompressionState `json:"compression"`
	ImageToPDF  flow.ImageToPDFState  `json:"image_to_pdf"`
	PDFToImage  flow.PDFToImageState  `json:"pdf_to_image"`
}

type qualityResponse struct {
	Label string `json:"label"`
}

func (srv *Server) routes(router *gin.Engine) {
	// Read-only routes never create a session.
	read := router.Group("/", srv.withExistingSession)
	read.GET("/", srv.index)
	read.GET("/artifacts/:id", srv.artifact)
	read.GET("/api/v1/state", srv.state)

	write := router.Group("/", srv.withSession)
	write.POST("/panels/:id", srv.showPanel)

	compressor := write.Group("/" + panel.Compressor)
	compressor.POST("/select", srv.compressSelect)
	compressor.POST("/quality", srv.compressQuality)
	compressor.POST("/run", srv.compressRun)

	imageToPDF := write.Group("/" + panel.ImageToPDF)
	imageToPDF.POST("/select", srv.imageToPDFSelect)
	imageToPDF.POST("/run", srv.imageToPDFRun)

	pdfToImage := write.Group("/" + panel.PDFToImage)
	pdfToImage.POST("/select", srv.pdfToImageSelect)
	pdfToImage.POST("/quality", srv.pdfToImageQuality)
	pdfToImage.POST("/run", srv.pdfToImageRun)
}

// withSession attaches the caller's session, creating it and setting the
// cookie when there is none.
func (srv *Server) withSession(c *gin.Context) {
	cookie, _ := c.Cookie(sessionCookieName)

	sess, created := srv.sessions.lookup(cookie)
	if created {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(sessionCookieName, sess.id, 0, "/", "", false, true)
	}

	c.Set(sessionKey, sess)
	c.Next()
}

// withExistingSession attaches the caller's session when it exists, and an
// unregistered empty one otherwise.
func (srv *Server) withExistingSession(c *gin.Context) {
	cookie, _ := c.Cookie(sessionCookieName)

	sess, ok := srv.sessions.find(cookie)
	if !ok {
		sess = srv.sessions.detached()

		defer func() {
			if closeErr := sess.workspace.Close(context.WithoutCancel(c.Request.Context())); closeErr != nil {
				srv.log.Warn("Failed to release detached session: %v", closeErr)
			}
		}()
	}

	c.Set(sessionKey, sess)
	c.Next()
}

func currentSession(c *gin.Context) *session {
	sess, _ := c.MustGet(sessionKey).(*session)

	return sess
}

func wantsJSON(c *gin.Context) bool {
	return c.NegotiateFormat(gin.MIMEHTML, gin.MIMEJSON) == gin.MIMEJSON
}

// respond answers JSON clients with payload or an APIError, and sends
// browsers back to the page, where queued alerts are shown.
func (srv *Server) respond(c *gin.Context, payload any, err error) {
	jsonClient := wantsJSON(c)

	if err != nil {
		srv.report(c, err, jsonClient)
	}

	if !jsonClient {
		c.Redirect(http.StatusSeeOther, "/")

		return
	}

	if err != nil {
		status, code := statusFor(err)
		c.AbortWithStatusJSON(status, APIError{Code: code, Error: err.Error()})

		return
	}

	c.JSON(http.StatusOK, payload)
}

// report logs server-side failures the flows have not logged and queues an
// alert for browsers.
func (srv *Server) report(c *gin.Context, err error, jsonClient bool) {
	status, _ := statusFor(err)

	if status >= http.StatusInternalServerError && !errors.Is(err, flow.ErrConversionFailed) {
		srv.log.Error("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	if jsonClient {
		return
	}

	if message := alertFor(err, status); message != "" {
		currentSession(c).Alert(message)
	}
}

func viewOf(sess *session, alerts []string) pageView {
	ws := sess.workspace

	view := pageView{
		Alerts:      alerts,
		Compression: ws.Compression.State(),
		ImageToPDF:  ws.ImageToPDF.State(),
		PDFToImage:  ws.PDFToImage.State(),
	}

	for _, id := range ws.Panels.Panels() {
		view.Panels = append(view.Panels, panelView{ID: id, Title: panelTitles[id], Visible: ws.Panels.Visible(id)})
	}

	return view
}

func (srv *Server) index(c *gin.Context) {
	sess := currentSession(c)
	c.HTML(http.StatusOK, "index.html", viewOf(sess, sess.takeAlerts()))
}

func (srv *Server) state(c *gin.Context) {
	sess := currentSession(c)
	c.JSON(http.StatusOK, viewOf(sess, sess.takeAlerts()))
}

func (srv *Server) showPanel(c *gin.Context) {
	sess := currentSession(c)
	err := sess.workspace.Panels.Show(c.Param("id"))
	srv.respond(c, viewOf(sess, nil), err)
}

func (srv *Server) compressSelect(c *gin.Context) {
	sess := currentSession(c)

	file, err := singleUpload(c, "file")
	if err == nil {
		err = sess.workspace.Compression.Select(c.Request.Context(), file)
	}

	srv.respond(c, sess.workspace.Compression.State(), err)
}

func (srv *Server) compressQuality(c *gin.Context) {
	sess := currentSession(c)

	raw := c.PostForm("quality")

	quality, parseErr := strconv.Atoi(strings.TrimSpace(raw))
	if parseErr != nil {
		srv.respond(c, nil, fmt.Errorf("%w: quality %q", errInvalidForm, raw))

		return
	}

	label, err := sess.workspace.Compression.SetQuality(quality)
	srv.respond(c, qualityResponse{Label: label}, err)
}

func (srv *Server) compressRun(c *gin.Context) {
	sess := currentSession(c)
	ref, err := sess.workspace.Compression.Compress(c.Request.Context())
	srv.respond(c, ref, err)
}

func (srv *Server) imageToPDFSelect(c *gin.Context) {
	sess := currentSession(c)

	files, err := multiUpload(c, "files")
	if err == nil {
		err = sess.workspace.ImageToPDF.Select(c.Request.Context(), files)
	}

	srv.respond(c, sess.workspace.ImageToPDF.State(), err)
}

func (srv *Server) imageToPDFRun(c *gin.Context) {
	sess := currentSession(c)
	ref, err := sess.workspace.ImageToPDF.Assemble(c.Request.Context())
	srv.respond(c, ref, err)
}

func (srv *Server) pdfToImageSelect(c *gin.Context) {
	sess := currentSession(c)

	file, err := singleUpload(c, "file")
	if err == nil {
		err = sess.workspace.PDFToImage.Select(c.Request.Context(), file)
	}

	srv.respond(c, sess.workspace.PDFToImage.State(), err)
}

// pdfToImageQuality treats unparsable values as 0, the default quality.
func (srv *Server) pdfToImageQuality(c *gin.Context) {
	sess := currentSession(c)

	quality, parseErr := strconv.ParseFloat(strings.TrimSpace(c.PostForm("quality")), 64)
	if parseErr != nil {
		quality = 0
	}

	label, err := sess.workspace.PDFToImage.SetQuality(quality)
	srv.respond(c, qualityResponse{Label: label}, err)
}

func (srv *Server) pdfToImageRun(c *gin.Context) {
	sess := currentSession(c)
	pages, err := sess.workspace.PDFToImage.ExtractPages(c.Request.Context())
	srv.respond(c, pages, err)
}

// artifact serves an output of the caller's session, as a download or inline
// with ?open=1.
func (srv *Server) artifact(c *gin.Context) {
	sess := currentSession(c)
	id := c.Param("id")

	if !sess.workspace.Owns(id) {
		c.AbortWithStatusJSON(http.StatusNotFound, errUnknownArtifact)

		return
	}

	stored, err := srv.store.Get(c.Request.Context(), id)
	if err != nil {
		status, _ := statusFor(err)
		if status != http.StatusNotFound {
			srv.log.Error("Failed to read artifact %s: %v", id, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, errReadArtifact)

			return
		}

		c.AbortWithStatusJSON(http.StatusNotFound, errUnknownArtifact)

		return
	}

	disposition := "attachment"
	if c.Query("open") == "1" {
		disposition = "inline"
	}

	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": stored.Name}))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, stored.MIMEType, stored.Data)
}

func singleUpload(c *gin.Context, field string) (flow.SelectedFile, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return flow.SelectedFile{}, fmt.Errorf("%w: %w", errMissingUpload, err)
	}

	return readUpload(header)
}

func multiUpload(c *gin.Context, field string) ([]flow.SelectedFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMissingUpload, err)
	}

	files := make([]flow.SelectedFile, 0, len(form.File[field]))

	for _, header := range form.File[field] {
		file, readErr := readUpload(header)
		if readErr != nil {
			return nil, readErr
		}

		files = append(files, file)
	}

	return files, nil
}

func readUpload(header *multipart.FileHeader) (flow.SelectedFile, error) {
	file, err := header.Open()
	if err != nil {
		return flow.SelectedFile{}, fmt.Errorf("open upload %s: %w", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return flow.SelectedFile{}, fmt.Errorf("read upload %s: %w", header.Filename, err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}

	return flow.SelectedFile{
		Name:     filepath.Base(header.Filename),
		MIMEType: mimeType,
		Data:     data,
	}, nil
}
