package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/zx-tiles/offline-proxy/internal/server"
	"github.com/zx-tiles/offline-proxy/internal/sw"
)

// MessagePath 是控制消息入口，正文为裸字符串命令。
const MessagePath = "/-/sw/message"

// RegisterControlRoutes 注册控制消息与状态接口。
func RegisterControlRoutes(app *fiber.App, reg *sw.Registration, logger *logrus.Logger) {
	if app == nil || reg == nil {
		return
	}

	app.Post(MessagePath, func(c fiber.Ctx) error {
		command := string(c.Body())
		target := c.Query("target")
		fields := logrus.Fields{
			"action":     "message",
			"command":    command,
			"target":     target,
			"request_id": server.RequestID(c),
		}

		if !sw.KnownCommand(command) {
			if logger != nil {
				logger.WithFields(fields).Warn("unknown control command")
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_command"})
		}

		w, err := reg.PostMessage(c.Context(), target, command)
		switch {
		case errors.Is(err, sw.ErrUnknownTarget):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_target"})
		case errors.Is(err, sw.ErrNoWorker):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_worker"})
		case err != nil:
			if logger != nil {
				logger.WithFields(fields).WithError(err).Error("deliver control command failed")
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "message_failed"})
		}

		if logger != nil {
			fields["version"] = w.Version()
			logger.WithFields(fields).Info("control command accepted")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"command": command,
			"version": w.Version(),
		})
	})

	app.Get("/-/sw/status", func(c fiber.Ctx) error {
		return c.JSON(reg.Status())
	})
}
