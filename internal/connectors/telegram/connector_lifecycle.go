package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
)

var allowedUpdates = []string{"message", "edited_message", "callback_query"}

func (c *Connector) Start(ctx context.Context) error {
	c.starting("starting")
	if c.gateway == nil || c.conversation == nil {
		if c.reporter != nil {
			c.reporter.Disabled(componentName, "handlers not bound")
		}
		c.logger.Info("connector disabled, handlers not bound")
		<-ctx.Done()
		return nil
	}

	if c.commandSync {
		if err := c.syncCommands(); err != nil {
			c.logger.Warn("telegram command sync failed", "error", err)
		} else {
			c.logger.Info("telegram commands synced")
		}
	}

	var beats sync.WaitGroup
	if c.webhookURL != "" {
		if err := c.registerWebhook(); err != nil {
			if c.reporter != nil {
				c.reporter.Degrade(componentName, "webhook registration failed", err)
			}
			return err
		}
		c.beat("webhook registered")
		c.logger.Info("connector started", "mode", "webhook")
		beats.Add(1)
		go func() {
			defer beats.Done()
			c.beatEvery(ctx, "webhook registered")
		}()
	} else {
		if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			c.logger.Warn("telegram webhook removal failed", "error", err)
		}
		c.beat("polling updates")
		c.logger.Info("connector started", "mode", "polling", "poll_seconds", c.pollSeconds)
		go c.poll(ctx)
	}
	err := c.dispatch(ctx)
	beats.Wait()
	if c.reporter != nil {
		c.reporter.Stopped(componentName, "stopped")
	}
	c.logger.Info("connector stopped")
	return err
}

// WebhookHandler accepts Bot API webhook deliveries. The update is queued and
// answered with 200 before it is processed.
func (c *Connector) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		update, err := c.bot.HandleUpdate(r)
		if err != nil {
			c.logger.Warn("telegram webhook decode failed", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		select {
		case c.updates <- *update:
		case <-r.Context().Done():
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		c.beat("webhook update queued")
		w.WriteHeader(http.StatusOK)
	})
}

func (c *Connector) registerWebhook() error {
	webhook, err := tgbotapi.NewWebhook(c.webhookURL)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	webhook.AllowedUpdates = allowedUpdates
	if _, err := c.bot.Request(webhook); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

func (c *Connector) dispatch(ctx context.Context) error {
	var group errgroup.Group
	group.SetLimit(c.maxConcurrent)
	for {
		select {
		case <-ctx.Done():
			_ = group.Wait()
			return nil
		case update := <-c.updates:
			group.Go(func() error {
				c.handleUpdate(ctx, update)
				return nil
			})
		}
	}
}

func (c *Connector) poll(ctx context.Context) {
	for ctx.Err() == nil {
		err := c.pollOnce(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			if c.reporter != nil {
				c.reporter.Degrade(componentName, "poll failed", err)
			}
			c.logger.Error("poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(1500 * time.Millisecond):
			}
		default:
			c.beat("poll cycle ok")
		}
	}
}

func (c *Connector) pollOnce(ctx context.Context) error {
	updates, err := c.bot.GetUpdates(tgbotapi.UpdateConfig{
		Offset:         c.offset,
		Timeout:        c.pollSeconds,
		AllowedUpdates: allowedUpdates,
	})
	if err != nil {
		return err
	}
	for _, update := range updates {
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		select {
		case c.updates <- update:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// beatEvery keeps the component fresh in webhook mode, where no poll loop
// beats on its behalf.
func (c *Connector) beatEvery(ctx context.Context, message string) {
	if c.reporter == nil {
		return
	}
	ticker := time.NewTicker(c.beatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.beat(message)
		}
	}
}

func (c *Connector) starting(message string) {
	if c.reporter != nil {
		c.reporter.Starting(componentName, message)
	}
}

func (c *Connector) beat(message string) {
	if c.reporter != nil {
		c.reporter.Beat(componentName, message)
	}
}
