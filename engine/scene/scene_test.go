package scene

import (
	"testing"

	"github.com/Carmen-Shannon/nebula-go/engine/game_object"
	"github.com/Carmen-Shannon/nebula-go/engine/light"
	"github.com/Carmen-Shannon/nebula-go/engine/model"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cubeAt(p mgl32.Vec3, cast bool) game_object.GameObject {
	return game_object.NewGameObject(
		game_object.WithMesh(model.Cube("cube")),
		game_object.WithPosition(p),
		game_object.WithCastShadows(cast),
	)
}

func TestNewSceneDefaults(t *testing.T) {
	s := NewScene("main")
	assert.Equal(t, "main", s.Name())
	assert.True(t, s.Active())
	assert.Zero(t, s.Count())
	assert.Empty(t, s.Instances())
	assert.Empty(t, s.Lights())
	assert.True(t, s.GlobalBoundingBox().IsEmpty())

	inactive := NewScene("menu", WithActive(false))
	assert.False(t, inactive.Active())
	inactive.SetActive(true)
	assert.True(t, inactive.Active())
}

func TestAddAssignsIDs(t *testing.T) {
	s := NewScene("main")
	a := s.Add(cubeAt(mgl32.Vec3{}, false))
	b := s.Add(game_object.NewGameObject(game_object.WithID(10)))
	c := s.Add(cubeAt(mgl32.Vec3{}, false))

	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(10), b)
	assert.Equal(t, uint64(11), c)
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, b, s.Get(b).ID())
	assert.Nil(t, s.Get(99))
}

func TestObjectsFeedInstancesAndLights(t *testing.T) {
	sun := light.NewLight(light.LightTypeGlobal)
	s := NewScene("main", WithObjects(
		cubeAt(mgl32.Vec3{-5, 0, 0}, true),
		cubeAt(mgl32.Vec3{5, 0, 0}, false),
		game_object.NewGameObject(game_object.WithLight(sun)),
	))

	assert.Len(t, s.Instances(), 2)
	assert.Len(t, s.ShadowCasters(), 1)
	require.Len(t, s.Lights(), 1)
	assert.Equal(t, sun, s.Lights()[0])

	box := s.GlobalBoundingBox()
	assert.InDelta(t, -6, box.Min[0], 1e-5)
	assert.InDelta(t, 6, box.Max[0], 1e-5)
}

func TestDisabledObjectsAreSkipped(t *testing.T) {
	s := NewScene("main")
	obj := cubeAt(mgl32.Vec3{}, true)
	s.Add(obj)
	obj.SetEnabled(false)
	assert.Empty(t, s.Instances())
	assert.Empty(t, s.ShadowCasters())
	obj.SetEnabled(true)
	assert.Len(t, s.Instances(), 1)
}

func TestRemoveReleasesMembers(t *testing.T) {
	s := NewScene("main")
	l := light.NewLight(light.LightTypePoint)
	id := s.Add(game_object.NewGameObject(game_object.WithMesh(model.Cube("cube")), game_object.WithLight(l)))
	require.Len(t, s.Lights(), 1)

	require.NoError(t, s.Remove(id))
	assert.Empty(t, s.Instances())
	assert.Empty(t, s.Lights())
	assert.Error(t, s.Remove(id))
}

func TestReAddingAnIDReplacesTheObject(t *testing.T) {
	s := NewScene("main")
	s.Add(game_object.NewGameObject(game_object.WithID(3), game_object.WithMesh(model.Cube("a"))))
	s.Add(game_object.NewGameObject(game_object.WithID(3), game_object.WithMesh(model.Cube("b"))))
	assert.Equal(t, 1, s.Count())
	require.Len(t, s.Instances(), 1)
	assert.Equal(t, "b", s.Instances()[0].Mesh.Name())
}

func TestLooseInstancesAndLights(t *testing.T) {
	s := NewScene("main")
	inst := model.NewModelInstance(model.Cube("cube"), mgl32.Ident4())
	h := s.AddInstance(inst)
	lh := s.AddLight(light.NewLight(light.LightTypeSpot))
	assert.Equal(t, []*model.ModelInstance{inst}, s.Instances())
	assert.Len(t, s.Lights(), 1)
	assert.Zero(t, s.Count())

	require.NoError(t, s.RemoveInstance(h))
	require.NoError(t, s.RemoveLight(lh))
	assert.Error(t, s.RemoveInstance(h))
	assert.Empty(t, s.Instances())
	assert.Empty(t, s.Lights())
}

func TestClear(t *testing.T) {
	s := NewScene("main", WithObjects(cubeAt(mgl32.Vec3{}, true)))
	s.AddLight(light.NewLight(light.LightTypeGlobal))
	s.Clear()
	assert.Zero(t, s.Count())
	assert.Empty(t, s.Instances())
	assert.Empty(t, s.Lights())
}
