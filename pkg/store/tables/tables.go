package tables

// Set groups the tables of one partition.
type Set struct {
	Status  StatusTable
	Inbox   InboxTable
	Outbox  OutboxTable
	Timer   TimerTable
	Journal JournalTable
	Dedup   DedupTable
	State   StateTable
}

func For(partition uint64) Set {
	return Set{
		Status:  NewStatusTable(partition),
		Inbox:   NewInboxTable(partition),
		Outbox:  NewOutboxTable(partition),
		Timer:   NewTimerTable(partition),
		Journal: NewJournalTable(partition),
		Dedup:   NewDedupTable(partition),
		State:   NewStateTable(partition),
	}
}
