package config

type WorkerKeyStruct struct {
	PersistProctorLogsQueue string
	PersistProgressQueue    string
	PersistSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProctorLogsQueue: "persist_proctor_logs_queue",
	PersistProgressQueue:    "persist_progress_queue",
	PersistSubmissionsQueue: "persist_submissions_queue",
}
