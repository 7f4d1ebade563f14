package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/zx-tiles/offline-proxy/internal/strategy"
	"github.com/zx-tiles/offline-proxy/internal/sw"
)

// RegisterStrategyRoutes 暴露 /-/sw/strategies 诊断接口，列出策略及其在当前版本下使用的命名空间。
func RegisterStrategyRoutes(app *fiber.App, reg *sw.Registration) {
	if app == nil || reg == nil {
		return
	}

	app.Get("/-/sw/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"strategies": encodeStrategies(strategy.List(), controllerNamespaces(reg)),
		})
	})

	app.Get("/-/sw/strategies/:kind", func(c fiber.Ctx) error {
		kind := strings.ToLower(strings.TrimSpace(c.Params("kind")))
		meta, ok := strategy.Resolve(strategy.Kind(kind))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "strategy_not_found"})
		}
		return c.JSON(encodeStrategy(meta, controllerNamespaces(reg)))
	})
}

type strategyPayload struct {
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Mode        string   `json:"mode"`
	Purpose     string   `json:"purpose"`
	Namespace   string   `json:"namespace,omitempty"`
	Extensions  []string `json:"extensions"`
	Priority    int      `json:"priority"`
	Default     bool     `json:"default"`
	Fallback    string   `json:"fallback"`
}

func controllerNamespaces(reg *sw.Registration) *sw.Namespaces {
	if w := reg.Controller(); w != nil {
		ns := w.Namespaces()
		return &ns
	}
	return nil
}

func encodeStrategies(metas []strategy.Metadata, ns *sw.Namespaces) []strategyPayload {
	if len(metas) == 0 {
		return nil
	}
	result := make([]strategyPayload, 0, len(metas))
	for _, meta := range metas {
		result = append(result, encodeStrategy(meta, ns))
	}
	return result
}

func encodeStrategy(meta strategy.Metadata, ns *sw.Namespaces) strategyPayload {
	payload := strategyPayload{
		Kind:        string(meta.Kind),
		Description: meta.Description,
		Mode:        string(meta.Mode),
		Purpose:     string(meta.Purpose),
		Extensions:  append([]string{}, meta.Extensions...),
		Priority:    meta.Priority,
		Default:     meta.Default(),
		Fallback:    meta.Fallback,
	}
	if ns != nil {
		payload.Namespace = ns.For(meta.Purpose)
	}
	return payload
}
