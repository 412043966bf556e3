package permission_test

import (
	"context"
	"errors"
	"testing"

	"farmai/internal/device"
	"farmai/internal/permission"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckNeverPrompts(t *testing.T) {
	os := device.NewPermissions()
	os.Set(permission.Fine, permission.Granted)
	os.Set(permission.Background, permission.Denied)
	g := permission.NewGateway(os, nil)

	s := g.Check(context.Background())
	assert.Equal(t, permission.Granted, s.Fine)
	assert.Equal(t, permission.Denied, s.Background)
	assert.True(t, s.LocationEnabled())
	assert.False(t, s.BackgroundEnabled())
	assert.True(t, g.ShouldRequestBackground())
	assert.Zero(t, os.Requests(permission.Fine))
	assert.Zero(t, os.Requests(permission.Background))
}

func TestCheckErrorKeepsPreviousStatus(t *testing.T) {
	os := device.NewPermissions()
	os.Set(permission.Fine, permission.Granted)
	os.Set(permission.Background, permission.Denied)
	g := permission.NewGateway(os, nil)
	require.True(t, g.Check(context.Background()).LocationEnabled())

	os.FailCheck(permission.Background, errors.New("binder died"))
	s := g.Check(context.Background())
	assert.Equal(t, permission.Granted, s.Fine)
	assert.Equal(t, permission.Denied, s.Background)

	os.FailCheck(permission.Background, nil)
	assert.True(t, g.RequestBackground(context.Background()))
	assert.Equal(t, permission.Granted, g.State().Background)
}

func TestCheckWithCancelledContextRecovers(t *testing.T) {
	os := device.NewPermissions()
	os.Set(permission.Fine, permission.Granted)
	g := permission.NewGateway(os, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := g.Check(ctx)
	assert.Equal(t, permission.NotDetermined, s.Fine)
	assert.Equal(t, permission.NotDetermined, s.Background)

	s = g.Check(context.Background())
	assert.Equal(t, permission.Granted, s.Fine)
	assert.True(t, g.RequestFine(context.Background()))
}

func TestReportedUnavailableIsTerminal(t *testing.T) {
	os := device.NewPermissions()
	os.Set(permission.Background, permission.Unavailable)
	g := permission.NewGateway(os, nil)
	assert.Equal(t, permission.Unavailable, g.Check(context.Background()).Background)

	os.Set(permission.Background, permission.Granted)
	assert.Equal(t, permission.Unavailable, g.Check(context.Background()).Background)
}

func TestRequestFineGrantAsksForPrecision(t *testing.T) {
	os := device.NewPermissions()
	os.FailPrecise(errors.New("user dismissed"))
	g := permission.NewGateway(os, nil)

	require.True(t, g.RequestFine(context.Background()))
	assert.Equal(t, permission.Granted, g.State().Fine)
	assert.Equal(t, 1, os.Requests(permission.Fine))
	assert.Equal(t, 1, os.PreciseRequests())
}

func TestRequestFineDenied(t *testing.T) {
	os := device.NewPermissions()
	os.Answer(permission.Fine, permission.Blocked)
	g := permission.NewGateway(os, nil)

	assert.False(t, g.RequestFine(context.Background()))
	assert.Equal(t, permission.Blocked, g.State().Fine)
	assert.Zero(t, os.PreciseRequests())
}

func TestRequestErrorLeavesStateAlone(t *testing.T) {
	os := device.NewPermissions()
	os.Set(permission.Fine, permission.Denied)
	g := permission.NewGateway(os, nil)
	g.Check(context.Background())

	os.FailRequest(permission.Fine, errors.New("activity not attached"))
	assert.False(t, g.RequestFine(context.Background()))
	assert.Equal(t, permission.Denied, g.State().Fine)
}

func TestRequestBackgroundRequiresFine(t *testing.T) {
	for _, fine := range []permission.Status{permission.NotDetermined, permission.Denied, permission.Blocked} {
		os := device.NewPermissions()
		os.Set(permission.Fine, fine)
		os.Set(permission.Background, permission.Denied)
		g := permission.NewGateway(os, nil)
		before := g.Check(context.Background()).Background

		assert.False(t, g.RequestBackground(context.Background()), fine)
		assert.Equal(t, before, g.State().Background, fine)
		assert.Zero(t, os.Requests(permission.Background), fine)
	}
}

func TestRequestAll(t *testing.T) {
	t.Run("both granted", func(t *testing.T) {
		g := permission.NewGateway(device.NewPermissions(), nil)
		assert.True(t, g.RequestAll(context.Background()))
		assert.True(t, g.State().BackgroundEnabled())
		assert.False(t, g.ShouldRequestBackground())
	})

	t.Run("fine only", func(t *testing.T) {
		os := device.NewPermissions()
		os.Answer(permission.Background, permission.Denied)
		g := permission.NewGateway(os, nil)

		assert.False(t, g.RequestAll(context.Background()))
		s := g.Check(context.Background())
		assert.True(t, s.LocationEnabled())
		assert.Equal(t, permission.Denied, s.Background)
	})

	t.Run("fine refused skips background", func(t *testing.T) {
		os := device.NewPermissions()
		os.Answer(permission.Fine, permission.Denied)
		g := permission.NewGateway(os, nil)

		assert.False(t, g.RequestAll(context.Background()))
		assert.Zero(t, os.Requests(permission.Background))
	})
}

func TestDeniedIsRecoverable(t *testing.T) {
	os := device.NewPermissions()
	os.Answer(permission.Fine, permission.Denied)
	g := permission.NewGateway(os, nil)
	require.False(t, g.RequestFine(context.Background()))

	os.Answer(permission.Fine, permission.Granted)
	assert.True(t, g.RequestFine(context.Background()))
}

func TestNoReturnToNotDetermined(t *testing.T) {
	os := device.NewPermissions()
	g := permission.NewGateway(os, nil)
	require.True(t, g.RequestFine(context.Background()))

	os.Set(permission.Fine, permission.NotDetermined)
	assert.Equal(t, permission.Granted, g.Check(context.Background()).Fine)
}

func TestOpenSettings(t *testing.T) {
	os := device.NewPermissions()
	permission.NewGateway(os, nil).OpenSettings()
	assert.Equal(t, 1, os.SettingsOpened())
}
