// Package matrix is the Matrix transport for convertbot.
//
// # Overview
//
// Bridge logs in with mautrix, syncs joined rooms, and turns room events
// into bot.Events: text messages, uploaded files, and menu choices. It also
// implements bot.Transport so the controller can reply.
//
// # Menus
//
// Matrix has no inline keyboards. A message with buttons is sent as a
// numbered list and the bot reacts to it with one keycap per choice:
//
//	Select the format you want to convert to:
//
//	1️⃣ Convert to PDF
//	2️⃣ Convert to DOC
//
// Clicking a keycap reaction, replying "2", or replying "doc" all resolve
// to the same button payload.
//
// # Encryption
//
// SetupCrypto enables end-to-end encryption through the mautrix crypto
// helper. Attachments from encrypted rooms are decrypted on download and
// results sent to encrypted rooms are encrypted before upload.
package matrix
