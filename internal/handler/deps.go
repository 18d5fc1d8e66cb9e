package handler

import (
	"instantly/internal/app/chat"
	"instantly/internal/configs"
)

type AppDeps struct {
	Hub    *chat.Hub
	Config *configs.AppConfig
}
