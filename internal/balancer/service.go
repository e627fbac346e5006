/*
tank-controller - Balances the liquid level of two tanks
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package balancer

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/TheCacophonyProject/tank-controller/pump"
	"github.com/TheCacophonyProject/tank-controller/tank"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.TankController"
	dbusPath = "/org/cacophony/TankController"
)

type service struct {
	status *Status
}

func startService(status *Status) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{status: status}
	if err := conn.Export(s, dbusPath, dbusName); err != nil {
		return err
	}
	return conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
}

// TankStatus returns the last published volume and fill state of a tank.
func (s service) TankStatus(id string) (float64, string, bool, *dbus.Error) {
	t, err := tank.ParseID(id)
	if err != nil {
		return 0, "", false, dbusErr(err)
	}
	ts, ok := s.status.Tank(t)
	if !ok {
		return 0, "", false, dbusErr(fmt.Errorf("tank %s has not been sampled yet", t))
	}
	return ts.VolumeCm3, ts.State.String(), ts.Stale, nil
}

// PumpStatus returns "ON" or "OFF" and the direction of the pump.
func (s service) PumpStatus() (string, string, *dbus.Error) {
	c := s.status.Pump()
	state := "OFF"
	if c.Direction != pump.Off {
		state = "ON"
	}
	return state, c.Direction.String(), nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
