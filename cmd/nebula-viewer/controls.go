package main

import (
	"sync"

	"github.com/Carmen-Shannon/nebula-go/engine/camera"
	"github.com/Carmen-Shannon/nebula-go/engine/config"
	"github.com/Carmen-Shannon/nebula-go/engine/graphics"
	"github.com/Carmen-Shannon/nebula-go/engine/window"
	"github.com/Carmen-Shannon/nebula-go/internal/demo"
	"go.uber.org/zap"
)

// controls collects window input on the window thread and applies it on the render
// goroutine at the start of each frame.
type controls struct {
	log  *zap.Logger
	rs   graphics.RenderSystem
	cam  camera.Camera
	demo *demo.Demo
	app  appHooks

	mu       sync.Mutex
	keys     map[window.Key]bool
	pressed  []window.Key
	dragging bool
	lastX    int32
	lastY    int32
	orbitX   float32
	orbitY   float32
	zoom     float32
	effects  config.Effects

	// render goroutine only
	sunOrbit  bool
	sunTime   float64
	profiling bool
}

// appHooks are the engine actions bound to keys.
type appHooks struct {
	quit         func()
	setProfiling func(enabled bool)
	profiling    bool
}

func newControls(log *zap.Logger, rs graphics.RenderSystem, cam camera.Camera, d *demo.Demo, effects config.Effects, app appHooks) *controls {
	return &controls{
		log:       log,
		rs:        rs,
		cam:       cam,
		demo:      d,
		app:       app,
		profiling: app.profiling,
		keys:      make(map[window.Key]bool),
		effects:   effects,
		sunOrbit:  true,
	}
}

func (c *controls) key(k window.Key, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if down && !c.keys[k] {
		c.pressed = append(c.pressed, k)
	}
	c.keys[k] = down
}

// mouseButton starts and ends a middle-button orbit drag.
func (c *controls) mouseButton(b window.MouseButton, down bool, x, y int32) {
	if b != window.MouseButtonMiddle {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = down
	c.lastX, c.lastY = x, y
}

func (c *controls) mouseMove(x, y int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dragging {
		return
	}
	c.orbitX += float32(x - c.lastX)
	c.orbitY += float32(y - c.lastY)
	c.lastX, c.lastY = x, y
}

func (c *controls) scroll(delta float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoom += delta
}

// setEffects replaces the effect settings, typically after a config reload.
func (c *controls) setEffects(e config.Effects) {
	c.mu.Lock()
	c.effects = e
	c.mu.Unlock()
	c.rs.ApplyEffects(e)
}

// apply is the pre-logic callback of the viewer.
func (c *controls) apply(info graphics.FrameInfo) {
	c.mu.Lock()
	pressed := c.pressed
	c.pressed = nil
	orbitX, orbitY, zoom := c.orbitX, c.orbitY, c.zoom
	c.orbitX, c.orbitY, c.zoom = 0, 0, 0
	held := func(k window.Key) bool { return c.keys[k] }
	pan := [3]float32{}
	if held(window.KeyW) {
		pan[0]++
	}
	if held(window.KeyS) {
		pan[0]--
	}
	if held(window.KeyD) {
		pan[1]++
	}
	if held(window.KeyA) {
		pan[1]--
	}
	if held(window.KeyE) {
		pan[2]++
	}
	if held(window.KeyQ) {
		pan[2]--
	}
	c.mu.Unlock()

	for _, k := range pressed {
		c.press(k)
	}

	ctrl := c.cam.Controller()
	if ctrl != nil {
		if orbitX != 0 || orbitY != 0 {
			ctrl.Orbit(orbitX*ctrl.MouseSensitivity(), -orbitY*ctrl.MouseSensitivity())
		}
		if zoom != 0 {
			ctrl.Zoom(zoom)
		}
		if pan != [3]float32{} {
			ctrl.Pan(pan[1], pan[2], pan[0])
		}
	}

	if c.sunOrbit {
		c.sunTime += info.DeltaTime
		c.demo.Animate(c.sunTime)
	}
	c.demo.DrawGizmos(c.rs.Debug())
}

func (c *controls) press(k window.Key) {
	switch k {
	case window.KeyEscape:
		c.app.quit()
	case window.KeyP:
		c.profiling = !c.profiling
		c.app.setProfiling(c.profiling)
		c.log.Info("profiler toggled", zap.Bool("enabled", c.profiling))
	case window.KeyL:
		c.demo.Sun.SetEnabled(!c.demo.Sun.Enabled())
		c.log.Info("sun toggled", zap.Bool("enabled", c.demo.Sun.Enabled()))
	case window.KeyF:
		on := !c.demo.Points[0].Enabled()
		for _, p := range c.demo.Points {
			p.SetEnabled(on)
		}
		c.log.Info("point lights toggled", zap.Bool("enabled", on))
	case window.KeyG:
		c.demo.Spot.SetEnabled(!c.demo.Spot.Enabled())
		c.log.Info("spot light toggled", zap.Bool("enabled", c.demo.Spot.Enabled()))
	case window.KeyT:
		c.sunOrbit = !c.sunOrbit
		c.log.Info("sun orbit toggled", zap.Bool("enabled", c.sunOrbit))
	case window.KeyB:
		for _, p := range c.demo.Pillars {
			p.SetEnabled(!p.Enabled())
		}
	case window.Key1, window.Key2, window.Key3, window.Key4:
		c.mu.Lock()
		e := c.effects
		switch k {
		case window.Key1:
			e.HBAO.Enabled = !e.HBAO.Enabled
		case window.Key2:
			e.Fog.Enabled = !e.Fog.Enabled
		case window.Key3:
			e.SSR.Enabled = !e.SSR.Enabled
		case window.Key4:
			e.Tonemap.Enabled = !e.Tonemap.Enabled
		}
		c.effects = e
		c.mu.Unlock()
		c.rs.ApplyEffects(e)
		c.log.Info("effects toggled",
			zap.Bool("hbao", e.HBAO.Enabled),
			zap.Bool("fog", e.Fog.Enabled),
			zap.Bool("ssr", e.SSR.Enabled),
			zap.Bool("tonemap", e.Tonemap.Enabled),
		)
	}
}
