package i2c

import (
	"i2cserver-go/bus"
	"i2cserver-go/types"
)

// Diagnostics bus layout:
//
//	i2c/ctrl/<id>/status        retained types.ControllerStatus
//	i2c/ctrl/<id>/recovery      types.RecoveryEvent after each attempt
//	i2c/ctrl/<id>/cmd/<name>    request: stats | recover | reset
const (
	TokI2C      = "i2c"
	TokCtrl     = "ctrl"
	TokStatus   = "status"
	TokRecovery = "recovery"
	TokCmd      = "cmd"

	CmdStats   = "stats"
	CmdRecover = "recover"
	CmdReset   = "reset"
)

func StatusTopic(c types.ControllerID) bus.Topic {
	return bus.T(TokI2C, TokCtrl, int(c), TokStatus)
}

func RecoveryTopic(c types.ControllerID) bus.Topic {
	return bus.T(TokI2C, TokCtrl, int(c), TokRecovery)
}

func CommandTopic(c types.ControllerID, cmd string) bus.Topic {
	return bus.T(TokI2C, TokCtrl, int(c), TokCmd, cmd)
}
