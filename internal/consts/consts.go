// Package consts defines application-wide constants.
package consts

// DefaultHistoryLimit is the default number of rows returned by the history endpoint.
const DefaultHistoryLimit = 50

// Files.
const (
	// TempPrefix prefixes per-job temp directories.
	TempPrefix = "VK_"
	// PartList is the encoder concat manifest file name.
	PartList = "parts.txt"
	// SegmentExt is the extension of downloaded segment files.
	SegmentExt = ".ts"
	// OutputExt is the extension of default output files.
	OutputExt = ".mp4"
)

// Job stages shown next to the status.
const (
	StageInitializing = "Initializing"
	StageDownloading  = "Downloading"
	StageProcessing   = "Processing"
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespUnprocessableEntity is returned when the request cannot be processed.
	RespUnprocessableEntity = "unprocessable entity"
	// RespJobEnqueued is returned when a job is successfully enqueued.
	RespJobEnqueued = "job enqueued"
	// RespJobEnqueueFail is returned when a job cannot be enqueued.
	RespJobEnqueueFail = "job enqueue failed"
	// RespJobsRetrieved is returned when jobs are successfully retrieved.
	RespJobsRetrieved = "jobs retrieved"
	// RespJobRetrieved is returned when a job is successfully retrieved.
	RespJobRetrieved = "job retrieved"
	// RespJobNotFound is returned when a job is not found.
	RespJobNotFound = "job not found"
	// RespJobCanceled is returned when a cancel request was accepted.
	RespJobCanceled = "job cancel requested"
	// RespJobCancelFail is returned when a job cannot be canceled.
	RespJobCancelFail = "job cancel failed"
	// RespJobRetried is returned when a job was requeued.
	RespJobRetried = "job requeued"
	// RespJobRetryFail is returned when a job cannot be retried.
	RespJobRetryFail = "job retry failed"
	// RespJobRemoved is returned when a job was removed.
	RespJobRemoved = "job removed"
	// RespJobRemoveFail is returned when a job cannot be removed.
	RespJobRemoveFail = "job remove failed"
	// RespFileNameUsed is returned when the output file is used by another job.
	RespFileNameUsed = "output file name already used"
	// RespQueuePaused is returned when the queue was paused or is paused.
	RespQueuePaused = "queue paused"
	// RespQueueResumed is returned when the queue was resumed.
	RespQueueResumed = "queue resumed"
	// RespQueueRetrieved is returned when queue state was retrieved.
	RespQueueRetrieved = "queue retrieved"
	// RespAccessTokenFail is returned when the access token could not be obtained.
	RespAccessTokenFail = "access token request failed"
	// RespHistoryRetrieved is returned when history rows were retrieved.
	RespHistoryRetrieved = "history retrieved"
	// RespHistoryFail is returned when history cannot be read.
	RespHistoryFail = "history read failed"
)
