package services

import (
	"time"

	"townsquare/internal/lease"
	"townsquare/internal/utils"

	"gorm.io/gorm"
)

// Publisher 把新消息推送给聊天频道的在线连接
type Publisher interface {
	Publish(channelID uint, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(uint, any) {}

// Options 组装 Services 所需的依赖，零值字段使用默认值
type Options struct {
	DB        *gorm.DB
	Mail      *MailService
	Cache     *utils.Cache
	Limiter   *Limiter
	Leases    *lease.Manager
	Publisher Publisher
	Now       func() time.Time

	SiteURL         string
	CommentMaxDepth int
	FeedMaxLimit    int
	LeaseTTL        time.Duration
}

// core 各个 service 共享的依赖
type core struct {
	db        *gorm.DB
	mail      *MailService
	cache     *utils.Cache
	limiter   *Limiter
	leases    *lease.Manager
	publisher Publisher
	now       func() time.Time
	access    *Access

	siteURL  string
	maxDepth int
	maxLimit int
	leaseTTL time.Duration

	notifications *NotificationService
	ranking       *RankingService
}

// Services 所有业务入口
type Services struct {
	Access        *Access
	Users         *UserService
	Communities   *CommunityService
	Posts         *PostService
	Votes         *VoteService
	Comments      *CommentService
	Events        *EventService
	Documents     *DocumentService
	Channels      *ChannelService
	Notifications *NotificationService
	Ranking       *RankingService
}

func New(opts Options) *Services {
	c := &core{
		db:        opts.DB,
		mail:      opts.Mail,
		cache:     opts.Cache,
		limiter:   opts.Limiter,
		leases:    opts.Leases,
		publisher: opts.Publisher,
		now:       opts.Now,
		siteURL:   opts.SiteURL,
		maxDepth:  opts.CommentMaxDepth,
		maxLimit:  opts.FeedMaxLimit,
		leaseTTL:  opts.LeaseTTL,
	}
	if c.mail == nil {
		c.mail = NewMailService(nil, opts.SiteURL, true)
	}
	if c.cache == nil {
		c.cache = utils.NewCache(500)
	}
	if c.publisher == nil {
		c.publisher = nopPublisher{}
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.leases == nil {
		c.leases = lease.NewManager(opts.DB).WithClock(c.now)
	}
	if c.maxDepth <= 0 {
		c.maxDepth = DefaultMaxDepth
	}
	if c.maxLimit <= 0 {
		c.maxLimit = 50
	}
	if c.leaseTTL <= 0 {
		c.leaseTTL = 2 * time.Minute
	}
	c.access = NewAccess(opts.DB)
	c.notifications = &NotificationService{core: c}
	c.ranking = newRankingService(c)

	return &Services{
		Access:        c.access,
		Users:         &UserService{core: c},
		Communities:   &CommunityService{core: c},
		Posts:         &PostService{core: c},
		Votes:         &VoteService{core: c},
		Comments:      &CommentService{core: c},
		Events:        &EventService{core: c},
		Documents:     &DocumentService{core: c},
		Channels:      &ChannelService{core: c},
		Notifications: c.notifications,
		Ranking:       c.ranking,
	}
}

func (c *core) link(path string) string {
	return c.siteURL + path
}
