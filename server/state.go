package server

// controlState tracks where a session is in the command grammar. Commands
// that require a specific predecessor (PASS after USER, RNTO after RNFR)
// check it, and the transfer commands hold it for the duration of the
// transfer so that teardown paths know which resources to release.
type controlState int

const (
	// stateIdle accepts any command.
	stateIdle controlState = iota
	// statePassword is entered by a USER that requires verification;
	// only PASS resolves it.
	statePassword
	// stateRenameFrom is entered by a successful RNFR; only RNTO
	// resolves it.
	stateRenameFrom
	// stateList through stateAppend are held while the corresponding
	// transfer is streaming on the data connection.
	stateList
	stateRetrieve
	stateStore
	stateAppend
)

func (s controlState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePassword:
		return "password"
	case stateRenameFrom:
		return "rename-from"
	case stateList:
		return "list"
	case stateRetrieve:
		return "retrieve"
	case stateStore:
		return "store"
	case stateAppend:
		return "append"
	}
	return "unknown"
}

// dataState tracks the data connection lifecycle. At most one data socket is
// live per session; opening a new one always closes the previous one first.
type dataState int

const (
	// dataClosed means no data socket exists.
	dataClosed dataState = iota
	// dataListen means a passive-mode listener is waiting for the peer.
	dataListen
	// dataSend and dataReceive mean an accepted or dialed connection is
	// streaming in the named direction.
	dataSend
	dataReceive
)

func (s dataState) String() string {
	switch s {
	case dataClosed:
		return "closed"
	case dataListen:
		return "listen"
	case dataSend:
		return "send"
	case dataReceive:
		return "receive"
	}
	return "unknown"
}
