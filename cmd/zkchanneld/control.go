package main

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/zkchannels/zkchanneld/zkchan"
)

// openChannelRequest/openChannelResponse are the control protocol's only
// message pair: cmd/zkchannel's "open" subcommand (run with
// --party merch) sends one line of JSON and reads one line back, rather
// than talking protocol.FrameConn -- the control surface is local-only
// and has nothing in common with the customer-facing wire format.
type openChannelRequest struct {
	Name   string                `json:"name"`
	Params zkchan.ChannelMPCState `json:"params"`
}

type openChannelResponse struct {
	MPCState zkchan.ChannelMPCState `json:"mpc_state"`
	Error    string                 `json:"error,omitempty"`
}

func (d *daemon) controlLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			zkcdLog.Errorf("control accept: %v", err)
			return
		}
		go d.handleControl(conn)
	}
}

func (d *daemon) handleControl(conn net.Conn) {
	defer conn.Close()

	var req openChannelRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		zkcdLog.Errorf("control: decode request: %v", err)
		return
	}

	var resp openChannelResponse
	mpcState, err := d.OpenChannel(req.Name, req.Params)
	if err != nil {
		resp.Error = fmt.Sprintf("%v", err)
	} else {
		resp.MPCState = mpcState
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		zkcdLog.Errorf("control: encode response: %v", err)
	}
}
