package controllers

import (
	"net/http"
	"strconv"

	"github.com/datallboy/nzbleecher/internal/app"
	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/labstack/echo/v5"
)

const defaultHistoryLimit = 50

type HistoryController struct {
	App *app.Context
}

func (ctrl *HistoryController) HandleList(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return c.JSON(http.StatusOK, HistoryResponse{Items: []*domain.HistoryRecord{}})
	}

	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	items, err := ctrl.App.Store.GetHistory(c.Request().Context(), limit)
	if err != nil {
		ctrl.App.Logger.Error("Failed to read history: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read history")
	}
	if items == nil {
		items = []*domain.HistoryRecord{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{Items: items})
}

func (ctrl *HistoryController) HandleGet(c *echo.Context) error {
	if ctrl.App.Store == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history record not found")
	}

	rec, err := ctrl.App.Store.GetHistoryRecord(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read history")
	}
	if rec == nil {
		return echo.NewHTTPError(http.StatusNotFound, "history record not found")
	}
	return c.JSON(http.StatusOK, rec)
}
