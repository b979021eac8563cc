package types

// Every frame is a JSON text message: {"event": string, "data": payload}.
//
// Client -> Server
// create-room:
//   username: string
//
// join-room:
//   username: string
//   roomId: string   // case-insensitive, surrounding spaces ignored
//
// move:
//   index: number    // 0..8, row-major
//   symbol: "X" | "O"
//   room: string
//
// restart-request: (no data)

// Server -> Client
// room-created:
//   roomId: string
//
// player-assigned: "X" | "O"   // data is the bare symbol string
//
// joined-room:
//   roomId: string
//   gameState: string[9]       // "" for an empty cell
//
// invalid-room: (no data)
// room-full: (no data)
//
// move:                        // relayed to the other occupant only
//   index: number
//   symbol: "X" | "O"
//
// start-game:                  // sent to the whole room on join and restart
//   gameState: string[9]       // board play resumes from
// player-disconnected: (no data)
//
// error:
//   message: string
//   code: "bad_request" | "create_failed" | "join_failed" |
//         "move_save_failed" | "restart_failed" | "protocol_violation" |
//         "already_seated"
