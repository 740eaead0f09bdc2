package ws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/termhub/termhub/internal/shared/id"
	"github.com/termhub/termhub/internal/tabs"
	"github.com/termhub/termhub/internal/term"
	"go.uber.org/zap"
)

// dispatch routes one decoded envelope. A malformed or unknown message
// earns the sender an error envelope; the connection stays open.
func (h *Hub) dispatch(c *Client, msg Message) {
	h.metrics.WSMessages.WithLabelValues(msg.Type, "in").Inc()

	var err error
	switch msg.Type {
	case MsgTerminalCreate:
		err = h.handleCreate(c, msg.Payload)
	case MsgTerminalDestroy:
		err = h.handleDestroy(c, msg.Payload)
	case MsgTerminalInput:
		err = h.handleInput(c, msg.Payload)
	case MsgTerminalResize:
		err = h.handleResize(c, msg.Payload)
	case MsgTerminalAttach:
		err = h.handleAttach(c, msg.Payload)
	case MsgTerminalRename:
		err = h.handleRename(c, msg.Payload)
	case MsgTerminalAssignTab:
		err = h.handleAssignTab(c, msg.Payload)
	case MsgTerminalClearBuffer:
		err = h.handleClearBuffer(c, msg.Payload)
	case MsgTerminalFocus:
		err = h.handleFocus(c, msg.Payload)
	case MsgTerminalKillAgent:
		err = h.handleKillAgent(c, msg.Payload)
	case MsgTerminalsList:
		h.sendTo(c, MsgTerminalsList, TerminalsListPayload{Terminals: h.manager.List()})
	case MsgTabCreate:
		err = h.handleTabCreate(c, msg.Payload)
	case MsgTabUpdate:
		err = h.handleTabUpdate(c, msg.Payload)
	case MsgTabDelete:
		err = h.handleTabDelete(c, msg.Payload)
	case MsgTabReorder:
		err = h.handleTabReorder(c, msg.Payload)
	case MsgTabsList:
		err = h.handleTabsList(c)
	case MsgViewGet:
		err = h.handleViewGet(c)
	case MsgViewSetActiveTab:
		err = h.handleSetActiveTab(c, msg.Payload)
	case MsgPing:
		h.sendTo(c, MsgPong, struct{}{})
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		h.logger.Debug("message rejected",
			zap.String("client_id", c.id),
			zap.String("type", msg.Type),
			zap.Error(err))
		h.sendError(c, nil, err.Error(), Correlation{})
	}
}

func (h *Hub) sendError(c *Client, tid *id.TerminalID, message string, corr Correlation) {
	h.sendTo(c, MsgTerminalError, ErrorPayload{
		TerminalID:  tid,
		Error:       message,
		Correlation: corr,
	})
}

func (h *Hub) handleCreate(c *Client, raw json.RawMessage) error {
	var p CreateTerminalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:create payload: %w", err)
	}

	info, isNew, err := h.manager.Create(term.CreateOptions{
		Name:          p.Name,
		Cwd:           p.Cwd,
		Cols:          p.Cols,
		Rows:          p.Rows,
		TabID:         p.TabID,
		PositionInTab: p.PositionInTab,
	})
	if err != nil {
		h.sendError(c, nil, err.Error(), p.Correlation)
		return nil
	}

	if isNew {
		h.metrics.TerminalsCreated.Inc()
		h.metrics.TerminalsActive.Inc()
	} else {
		h.metrics.TerminalsReused.Inc()
	}

	// The requester is attached either way: a reused terminal behaves
	// like one it just created.
	c.attach(info.ID)

	h.broadcast(MsgTerminalCreated, TerminalCreatedPayload{
		Terminal:    info,
		IsNew:       isNew,
		Correlation: p.Correlation,
	})
	return nil
}

func (h *Hub) handleDestroy(c *Client, raw json.RawMessage) error {
	var p DestroyTerminalPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:destroy payload: %w", err)
	}

	// Resolve through List so exited terminals, which have a persisted
	// row but no live session, can still be destroyed.
	var target *term.Info
	for _, info := range h.manager.List() {
		if info.ID == p.TerminalID {
			target = &info
			break
		}
	}
	if target == nil {
		h.sendError(c, &p.TerminalID, "unknown terminal", Correlation{})
		return nil
	}
	if target.TabID != nil && !p.Force {
		h.sendError(c, &p.TerminalID,
			"terminal belongs to a tab; set force to destroy it", Correlation{})
		return nil
	}

	h.manager.Destroy(p.TerminalID)
	if target.Status == term.StatusRunning {
		h.metrics.TerminalsActive.Dec()
	}
	if p.Reason != "" {
		h.logger.Info("terminal destroyed",
			zap.String("terminal_id", p.TerminalID.String()),
			zap.String("reason", p.Reason))
	}
	h.broadcast(MsgTerminalDestroyed, DestroyedPayload{TerminalID: p.TerminalID})
	return nil
}

func (h *Hub) handleInput(c *Client, raw json.RawMessage) error {
	var p InputPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:input payload: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return fmt.Errorf("invalid terminal:input data: %w", err)
	}
	if !h.manager.Write(p.TerminalID, data) {
		h.sendError(c, &p.TerminalID, "unknown terminal", Correlation{})
	}
	return nil
}

func (h *Hub) handleResize(c *Client, raw json.RawMessage) error {
	var p ResizePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:resize payload: %w", err)
	}
	h.manager.Resize(p.TerminalID, p.Cols, p.Rows)
	return nil
}

func (h *Hub) handleAttach(c *Client, raw json.RawMessage) error {
	var p AttachPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:attach payload: %w", err)
	}
	buffer, ok := h.manager.Attach(p.TerminalID)
	if !ok {
		h.sendError(c, &p.TerminalID, "unknown terminal", Correlation{})
		return nil
	}
	c.attach(p.TerminalID)
	h.sendTo(c, MsgTerminalAttached, AttachedPayload{
		TerminalID: p.TerminalID,
		Buffer:     base64.StdEncoding.EncodeToString(buffer),
	})
	return nil
}

func (h *Hub) handleRename(c *Client, raw json.RawMessage) error {
	var p RenamePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:rename payload: %w", err)
	}
	if !h.manager.Rename(p.TerminalID, p.Name) {
		h.sendError(c, &p.TerminalID, "unknown terminal", Correlation{})
		return nil
	}
	h.broadcast(MsgTerminalRenamed, RenamedPayload{
		TerminalID: p.TerminalID,
		Name:       p.Name,
	})
	return nil
}

func (h *Hub) handleAssignTab(c *Client, raw json.RawMessage) error {
	var p AssignTabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:assignTab payload: %w", err)
	}
	if p.TabID != nil {
		tab, err := h.tabs.Get(*p.TabID)
		if err != nil {
			return err
		}
		if tab == nil {
			h.sendError(c, &p.TerminalID, "unknown tab", Correlation{})
			return nil
		}
	}
	if !h.manager.AssignTab(p.TerminalID, p.TabID, p.PositionInTab) {
		h.sendError(c, &p.TerminalID, "unknown terminal", Correlation{})
		return nil
	}
	h.broadcast(MsgTerminalTabAssigned, TabAssignedPayload{
		TerminalID:    p.TerminalID,
		TabID:         p.TabID,
		PositionInTab: p.PositionInTab,
	})
	return nil
}

func (h *Hub) handleClearBuffer(c *Client, raw json.RawMessage) error {
	var p ClearBufferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:clearBuffer payload: %w", err)
	}
	if !h.manager.ClearBuffer(p.TerminalID) {
		h.sendError(c, &p.TerminalID, "unknown terminal", Correlation{})
		return nil
	}
	h.broadcast(MsgBufferCleared, BufferClearedPayload{TerminalID: p.TerminalID})
	return nil
}

func (h *Hub) handleFocus(c *Client, raw json.RawMessage) error {
	var p FocusPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:focus payload: %w", err)
	}
	if err := h.tabs.FocusTerminal(p.TabID, p.TerminalID); err != nil {
		return err
	}
	return h.broadcastViewState()
}

func (h *Hub) handleKillAgent(c *Client, raw json.RawMessage) error {
	var p KillAgentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid terminal:killAgent payload: %w", err)
	}
	if !h.manager.KillAgent(p.TerminalID) {
		h.sendError(c, &p.TerminalID, "unknown terminal or no agent process", Correlation{})
	}
	return nil
}

func (h *Hub) handleTabCreate(c *Client, raw json.RawMessage) error {
	var p CreateTabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid tab:create payload: %w", err)
	}
	tab, err := h.tabs.Create(tabs.CreateOptions{
		Name:      p.Name,
		Position:  p.Position,
		Directory: p.Directory,
	})
	if err != nil {
		h.sendError(c, nil, err.Error(), p.Correlation)
		return nil
	}
	h.broadcast(MsgTabCreated, TabPayload{Tab: tab, Correlation: p.Correlation})
	return nil
}

func (h *Hub) handleTabUpdate(c *Client, raw json.RawMessage) error {
	var p UpdateTabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid tab:update payload: %w", err)
	}

	opts := tabs.UpdateOptions{Name: p.Name}
	if len(p.Directory) > 0 {
		if string(p.Directory) == "null" {
			opts.ClearDirectory = true
		} else {
			var dir string
			if err := json.Unmarshal(p.Directory, &dir); err != nil {
				return fmt.Errorf("invalid tab:update directory: %w", err)
			}
			opts.Directory = &dir
		}
	}

	tab, err := h.tabs.Update(p.TabID, opts)
	if err != nil {
		return err
	}
	if tab == nil {
		h.sendError(c, nil, "unknown tab", Correlation{})
		return nil
	}
	h.broadcast(MsgTabUpdated, TabPayload{Tab: *tab})
	return nil
}

func (h *Hub) handleTabDelete(c *Client, raw json.RawMessage) error {
	var p DeleteTabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid tab:delete payload: %w", err)
	}
	existed, err := h.tabs.Delete(p.TabID)
	if err != nil {
		return err
	}
	if !existed {
		h.sendError(c, nil, "unknown tab", Correlation{})
		return nil
	}
	h.broadcast(MsgTabDeleted, TabDeletedPayload{TabID: p.TabID})
	return h.broadcastViewState()
}

func (h *Hub) handleTabReorder(c *Client, raw json.RawMessage) error {
	var p ReorderTabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid tab:reorder payload: %w", err)
	}
	tab, err := h.tabs.Reorder(p.TabID, p.Position)
	if err != nil {
		return err
	}
	if tab == nil {
		h.sendError(c, nil, "unknown tab", Correlation{})
		return nil
	}
	h.broadcast(MsgTabReordered, TabPayload{Tab: *tab})
	return nil
}

func (h *Hub) handleTabsList(c *Client) error {
	list, err := h.tabs.List()
	if err != nil {
		return err
	}
	h.sendTo(c, MsgTabsList, TabsListPayload{Tabs: list})
	return nil
}

func (h *Hub) handleViewGet(c *Client) error {
	vs, err := h.tabs.ViewState()
	if err != nil {
		return err
	}
	h.sendTo(c, MsgViewState, ViewStatePayload{View: vs})
	return nil
}

func (h *Hub) handleSetActiveTab(c *Client, raw json.RawMessage) error {
	var p SetActiveTabPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("invalid view:setActiveTab payload: %w", err)
	}
	ok, err := h.tabs.SetActiveTab(p.TabID)
	if err != nil {
		return err
	}
	if !ok {
		h.sendError(c, nil, "unknown tab", Correlation{})
		return nil
	}
	return h.broadcastViewState()
}

// broadcastViewState pushes the current view state to every connection
// after a mutation so all clients converge.
func (h *Hub) broadcastViewState() error {
	vs, err := h.tabs.ViewState()
	if err != nil {
		return err
	}
	h.broadcast(MsgViewState, ViewStatePayload{View: vs})
	return nil
}
