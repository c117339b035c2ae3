// Package session tracks each user's place in the conversion flow.
//
// A session moves through three phases:
//
//	idle --(start/convert)--> awaiting_file --(upload)--> awaiting_format_choice
//	  ^                                                          |
//	  +-------------------------(format chosen)------------------+
//
// The phase is derived from the State fields, so a pending file can only
// exist while a format choice is outstanding. A separate in-flight marker
// rejects new uploads while that session's conversion is still running.
//
// Store keeps one State per session ID and serializes access per session:
//
//	err := sessions.Do(id, func(st *session.State) error {
//	    return st.AttachPending(file)
//	})
package session
