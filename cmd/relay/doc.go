// Package main runs a development relay with a built-in primary device.
//
// Devices connect over TCP and speak the framed transport. The process plays
// the primary account itself, so a device can be linked and exercised
// without a real phone.
//
// Console
//
//	scan <code>
//	    Confirm a pairing code shown by `tether link`.
//
//	send <session> <target> <text...>
//	    Push a message to a linked device.
//
//	remove <session>
//	    Tell the device it was removed, then forget the session.
//
//	revoke <session>
//	    Forget the session; the device's next handshake is refused.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Messages from devices are printed as they arrive and acknowledged with
//     delivery receipts.
//   - The default listen address is 127.0.0.1:7443.
package main
