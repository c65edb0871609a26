package setup

// Android 用户/组 ID
const (
	aidRoot      = 0
	aidSystem    = 1000
	aidLog       = 1007
	aidSdcardRw  = 1015
	aidMediaRw   = 1023
	aidShell     = 2000
	aidCache     = 2001
	aidEverybody = 9997
	aidMisc      = 9998
)

// ShiftID 是容器 user namespace 中 ID 0 在主机上的映射
const ShiftID = 655360

// 主机侧看到的容器 ID
const (
	rootUID   = aidRoot + ShiftID
	rootGID   = aidRoot + ShiftID
	systemUID = aidSystem + ShiftID
	systemGID = aidSystem + ShiftID
	mediaUID  = aidMediaRw + ShiftID
	mediaGID  = aidMediaRw + ShiftID
	shellUID  = aidShell + ShiftID
	shellGID  = aidShell + ShiftID
	cacheGID  = aidCache + ShiftID
	logGID    = aidLog + ShiftID
	sdcardGID = aidSdcardRw + ShiftID
	everyGID  = aidEverybody + ShiftID
	miscGID   = aidMisc + ShiftID
)

// 主机用户
const (
	hostRootUID      = 0
	hostRootGID      = 0
	hostArcCameraUID = 603
	hostArcCameraGID = 603
)
