// Package bot implements the conversation flow of the conversion bot.
//
// # Overview
//
// A Controller receives transport-neutral Events (text, commands, uploaded
// documents, and button presses) and answers through a Transport. The flow
// for one user in one chat is:
//
//	!convert          -> session awaits a file
//	upload report.docx -> file is staged, a format menu is sent
//	press "Convert to PDF" -> conversion runs in the background
//	                     -> converted_report.pdf is sent back
//
// # Buttons
//
// Format buttons carry a structured payload, "<staged id>|<format>", built
// by EncodeSelection. A press only proceeds when the staged id matches the
// file the session is still waiting on; stale or repeated presses get an
// "expired" reply instead of reaching the backend.
//
// # Cleanup
//
// Every staged file is deleted exactly once: after its conversion finishes
// (success or failure), when the user cancels, or when a new !start or
// !convert supersedes it. Wait blocks until background conversions finish,
// which lets shutdown drain them.
package bot
