// Package whatsapp – events.go processes incoming whatsmeow events and
// converts text messages into unified Hookclaw IncomingMessage values.
package whatsapp

import (
	"github.com/jholhewres/hookclaw/pkg/hookclaw/channels"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.handleConnected(evt)

	case *events.Disconnected:
		w.handleDisconnected(evt)

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("whatsapp: stream replaced - another device connected")

	case *events.LoggedOut:
		w.handleLoggedOut(evt)

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired",
			"jid", evt.ID,
			"platform", evt.Platform)

	case *events.QRScannedWithoutMultidevice:
		w.logger.Warn("whatsapp: QR scanned but multidevice not enabled")
	}
}

// handleConnected handles successful connection.
func (w *WhatsApp) handleConnected(_ *events.Connected) {
	w.connected.Store(true)
	w.reconnectAttempts.Store(0)

	jid := ""
	if w.client != nil && w.client.Store.ID != nil {
		jid = w.client.Store.ID.String()
	}
	w.logger.Info("whatsapp: connected", "jid", jid)
}

// handleDisconnected handles connection loss.
func (w *WhatsApp) handleDisconnected(_ *events.Disconnected) {
	wasConnected := w.connected.Load()
	w.connected.Store(false)

	w.logger.Warn("whatsapp: disconnected", "was_connected", wasConnected)

	// whatsmeow's auto-reconnect normally recovers on its own; the backoff
	// loop is a fallback for when the connection was fully established and
	// then dropped without recovery.
	if wasConnected && w.ctx.Err() == nil {
		go w.attemptReconnect()
	}
}

// handleLoggedOut handles session invalidation. The stored session is
// gone, so reconnecting is pointless until the device is linked again.
func (w *WhatsApp) handleLoggedOut(evt *events.LoggedOut) {
	w.connected.Store(false)

	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}

	w.logger.Error("whatsapp: logged out, re-link required",
		"reason", reason,
		"on_connect", evt.OnConnect)
}

// handleMessageEvt processes an incoming WhatsApp message event.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	// Skip messages from self.
	if evt.Info.IsFromMe {
		return
	}

	// Skip status broadcasts.
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	// Group/DM filtering.
	isGroup := evt.Info.IsGroup
	if isGroup && !w.cfg.RespondToGroups {
		return
	}
	if !isGroup && !w.cfg.RespondToDMs {
		return
	}

	content := extractText(evt.Message)
	if content == "" {
		w.logger.Debug("whatsapp: ignoring non-text message",
			"from", evt.Info.Sender.String())
		return
	}

	// Resolve sender JID — WhatsApp may use LID (Linked Identity) format
	// instead of phone numbers. Resolve to the phone JID so trigger
	// selectors written as phone JIDs keep working.
	senderJID := evt.Info.Sender
	resolvedSender := senderJID.String()
	if senderJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, senderJID); err == nil && !altJID.IsEmpty() {
			resolvedSender = altJID.String()
			w.logger.Debug("whatsapp: resolved LID to phone",
				"lid", senderJID.String(), "phone", resolvedSender)
		}
	}

	// Resolve chat JID (for DMs, chat may also be in LID format).
	chatJID := evt.Info.Chat
	resolvedChat := chatJID.String()
	if chatJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, chatJID); err == nil && !altJID.IsEmpty() {
			resolvedChat = altJID.String()
		}
	}

	// In a DM the push name identifies the chat peer. Groups have no
	// cheap display name, so trigger selectors match them by JID.
	chatName := ""
	if !isGroup {
		chatName = evt.Info.PushName
	}

	w.emitMessage(&channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		ChatID:    resolvedChat,
		ChatName:  chatName,
		From:      resolvedSender,
		FromName:  evt.Info.PushName,
		IsGroup:   isGroup,
		Content:   content,
		Timestamp: evt.Info.Timestamp,
	})
}

// extractText pulls the text content out of a WhatsApp message.
// Returns "" for non-text payloads.
func extractText(waMsg *waE2E.Message) string {
	if waMsg == nil {
		return ""
	}

	// Plain conversation text.
	if waMsg.Conversation != nil {
		return waMsg.GetConversation()
	}

	// Extended text (links, formatting, quoted replies).
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}

	return ""
}
