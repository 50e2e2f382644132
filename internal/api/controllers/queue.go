package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/datallboy/nzbleecher/internal/app"
	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/labstack/echo/v5"
)

type QueueController struct {
	App    *app.Context
	Engine Engine
}

// HandleStatus reports the active and postponed archives
func (ctrl *QueueController) HandleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, ctrl.Engine.Status())
}

// HandleEnqueue stores an uploaded NZB (form field "nzb") and queues it
func (ctrl *QueueController) HandleEnqueue(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "uploads need a store")
	}

	fh, err := c.FormFile("nzb")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing nzb file")
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable nzb file")
	}
	defer src.Close()

	path, err := ctrl.App.Store.SaveNZB(fh.Filename, src)
	if err != nil {
		ctrl.App.Logger.Error("Failed to store upload %s: %v", fh.Filename, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store nzb")
	}

	st, err := ctrl.Engine.Enqueue(c.Request().Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidNZB) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		ctrl.App.Logger.Error("Failed to queue %s: %v", fh.Filename, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to queue nzb")
	}

	return c.JSON(http.StatusCreated, st)
}

// HandleCancel drops one archive and its working files
func (ctrl *QueueController) HandleCancel(c *echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid archive id")
	}

	if err := ctrl.Engine.Cancel(c.Request().Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrArchiveNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "archive not found")
		case errors.Is(err, domain.ErrArchiveBusy):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// HandlePostpone stops every active archive, keeping what is on disk
func (ctrl *QueueController) HandlePostpone(c *echo.Context) error {
	n, err := ctrl.Engine.Postpone(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, CountResponse{Count: n})
}

// HandleResume reloads the postponed archives
func (ctrl *QueueController) HandleResume(c *echo.Context) error {
	n, err := ctrl.Engine.Resume(c.Request().Context())
	if err != nil {
		ctrl.App.Logger.Warn("Resume finished with errors: %v", err)
	}
	return c.JSON(http.StatusOK, CountResponse{Count: n})
}
