package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Scrimzay/hexboard/internal/hex"
	"github.com/Scrimzay/hexboard/internal/snapshot"
	"github.com/Scrimzay/hexboard/internal/world"
	"github.com/gin-gonic/gin"
)

type TokenAction struct {
	Action string         `json:"action"`
	Token  snapshot.Token `json:"token"`
}

type IDAction struct {
	Action   string `json:"action"`
	ID       string `json:"id"`
	Deployed bool   `json:"deployed"`
}

type MoveAction struct {
	Action string    `json:"action"`
	ID     string    `json:"id"`
	To     hex.Axial `json:"to"`
}

type PointerAction struct {
	Action string  `json:"action"`
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

type PaintAction struct {
	Action  string      `json:"action"`
	From    hex.Axial   `json:"from"`
	To      hex.Axial   `json:"to"`
	Center  hex.Axial   `json:"center"`
	Radius  int         `json:"radius"`
	Cells   []hex.Axial `json:"cells"`
	Terrain string      `json:"terrain"`
	Color   string      `json:"color"`
	Draft   bool        `json:"draft"`
}

type StrokeAction struct {
	Action string  `json:"action"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
	Live   bool    `json:"live"`
}

type MapAction struct {
	Action string `json:"action"`
	URL    string `json:"url"`
	Name   string `json:"name"`
	Seed   int64  `json:"seed"`
}

type CameraAction struct {
	Action string          `json:"action"`
	Camera snapshot.Camera `json:"camera"`
}

type ViewportAction struct {
	Action   string            `json:"action"`
	Viewport snapshot.Viewport `json:"viewport"`
}

var errUnknownAction = errors.New("unknown action")

func editorStateHandler(w *world.World) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, w.EditorState())
	}
}

// HandleAction runs one GM command. The body is a JSON object whose
// "action" field picks the command.
func HandleAction(w *world.World) gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var base struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "JSON parse error: " + err.Error()})
			return
		}

		result, err := runAction(w, base.Action, msg)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"action": base.Action, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"action": base.Action, "result": result})
	}
}

func runAction(w *world.World, action string, msg []byte) (any, error) {
	switch action {
	case "add_token":
		var a TokenAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		return w.AddToken(a.Token)

	case "remove_token", "deploy", "set_active":
		var a IDAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		switch action {
		case "remove_token":
			return nil, w.RemoveToken(a.ID)
		case "deploy":
			return nil, w.Deploy(a.ID, a.Deployed)
		default:
			return nil, w.SetActive(a.ID)
		}

	case "move":
		var a MoveAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		dest, steps, err := w.MoveToken(a.ID, a.To)
		return gin.H{"cell": dest, "steps": steps}, err

	case "drag_begin":
		var a PointerAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		return w.BeginDrag(a.ID)

	case "drag_move":
		var a PointerAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		return w.DragTo(a.ID, a.X, a.Y)

	case "drag_end":
		var a PointerAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		cell, steps, err := w.EndDrag(a.ID, a.X, a.Y)
		return gin.H{"cell": cell, "steps": steps}, err

	case "drag_cancel":
		w.CancelDrag()
		return nil, nil

	case "paint_line", "paint_area", "erase":
		var a PaintAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		brush := world.Brush{Terrain: a.Terrain, Color: a.Color, Draft: a.Draft}
		var n int
		var err error
		switch action {
		case "paint_line":
			n, err = w.PaintLine(a.From, a.To, brush)
		case "paint_area":
			n, err = w.PaintArea(a.Center, a.Radius, brush)
		default:
			n = w.Erase(a.Cells...)
		}
		return gin.H{"tiles": n}, err

	case "publish_draft":
		return gin.H{"tiles": w.PublishDraft()}, nil

	case "discard_draft":
		w.DiscardDraft()
		return nil, nil

	case "clear_overlay":
		w.ClearOverlay()
		return nil, nil

	case "stroke_begin":
		var a StrokeAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		return gin.H{"id": w.BeginStroke(a.Color, a.Width, a.Live)}, nil

	case "stroke_extend":
		var a PointerAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		return nil, w.ExtendStroke(a.X, a.Y)

	case "stroke_end":
		return w.EndStroke()

	case "clear_drawings":
		w.ClearDrawings()
		return nil, nil

	case "set_map", "init_map":
		var a MapAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		if action == "set_map" {
			w.SetMap(a.URL)
		} else {
			w.InitMap(a.Name, a.Seed)
		}
		return nil, nil

	case "set_camera":
		var a CameraAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		w.SetCamera(a.Camera)
		return nil, nil

	case "set_viewport":
		var a ViewportAction
		if err := decode(msg, &a); err != nil {
			return nil, err
		}
		w.SetViewport(a.Viewport)
		return nil, nil

	case "combat_start":
		return nil, w.StartCombat()

	case "next_turn":
		active, round, err := w.NextTurn()
		return gin.H{"active": active, "round": round}, err

	case "combat_end":
		w.EndCombat()
		return nil, nil

	case "reset":
		w.Reset()
		return nil, nil

	default:
		return nil, fmt.Errorf("%w %q", errUnknownAction, action)
	}
}

func decode(msg []byte, v any) error {
	if err := json.Unmarshal(msg, v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

var errBadBody = errors.New("bad action body")

func statusFor(err error) int {
	switch {
	case errors.Is(err, world.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, world.ErrNotDragging), errors.Is(err, world.ErrNoStroke):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
