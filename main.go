package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"telechat/data/mongoutil"
	"telechat/global"
	"telechat/logger"
	mid "telechat/middleware"
	midsec "telechat/middleware/security"
	chathandler "telechat/module/chat/handler"
	"telechat/module/chat/model"
	"telechat/module/identity"
	"telechat/service/chat"
	"telechat/service/mgo"
	"telechat/service/storage"
	"telechat/tools/ids"
)

func main() {
	cfg, err := global.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ids.SetNodeID(cfg.NodeID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1) Durable store
	mgo.StartAsync(ctx, &mongoutil.Config{
		URI:         cfg.Mongo.URI,
		Database:    cfg.Mongo.Database,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    cfg.Mongo.MaxRetry,
	})
	waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := mgo.WaitReady(waitCtx); err != nil {
		waitCancel()
		log.Fatalf("mongo: %v", err)
	}
	waitCancel()
	if err := (&model.Conversation{}).EnsureIndexes(ctx); err != nil {
		logger.Warnf("conversation indexes: %v", err)
	}
	if err := (&model.Message{}).EnsureIndexes(ctx); err != nil {
		logger.Warnf("message indexes: %v", err)
	}

	// 2) Identity
	resolver := identity.NewResolver([]byte(cfg.JWT.Secret), cfg.JWT.TTL)
	names := identity.NewMongoDirectory()

	// 3) Presence (optional: last-seen only, liveness is in-process)
	var presence chat.Presence
	if p, perr := storage.NewRedisPresence(storage.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); perr != nil {
		logger.Warnf("redis presence disabled: %v", perr)
	} else {
		presence = p
		defer p.Close()
	}

	// 4) Gateway
	conns := chat.NewConnManager(chat.ManagerConf{
		AuthTTL:    cfg.Gateway.AuthTTL,
		SweepEvery: cfg.Gateway.SweepEvery,
		PingEvery:  cfg.Gateway.PingEvery,
	})
	defer conns.Close()
	gw := chat.NewServer(conns, resolver, names, presence)

	// 5) HTTP + WebSocket
	h := chathandler.New(names, gw, cfg.Page)
	authMW := midsec.Middleware(resolver)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ws/chat", gw.HandleWS) // ws://host/ws/chat?token=...&class=patient

	api := r.Group("/api/chat")
	mid.GET(api, "/conversations", h.ListConversations, mid.RouteOpt{Auth: authMW})
	mid.POST(api, "/conversations", h.CreateConversation, mid.RouteOpt{Auth: authMW})
	mid.GET(api, "/conversations/:conversationId/messages", h.ListMessages, mid.RouteOpt{Auth: authMW})
	mid.POST(api, "/conversations/:conversationId/messages", h.SendMessage, mid.RouteOpt{Auth: authMW})
	mid.PUT(api, "/conversations/:conversationId/read", h.MarkRead, mid.RouteOpt{Auth: authMW})
	mid.DELETE(api, "/conversations/:conversationId", h.Archive, mid.RouteOpt{Auth: authMW})
	mid.GET(api, "/online-status", h.OnlineStatus, mid.RouteOpt{Auth: authMW})

	logger.Infof("[HTTP] listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
